package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"shop-service/internal/models"
)

// Sign returns the lowercase hex HMAC-SHA256 of message under secret.
func Sign(secret string, message []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC compares signature against the HMAC of message in constant time.
// An empty secret never verifies.
func VerifyHMAC(secret string, message []byte, signature string) error {
	if secret == "" {
		return fmt.Errorf("%w: secret not configured", models.ErrSignatureInvalid)
	}
	expected := Sign(secret, message)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return models.ErrSignatureInvalid
	}
	return nil
}

// PaymentSignatureMessage is the message the gateway signs when it confirms
// a payment to the client: "<order_ref>|<payment_ref>".
func PaymentSignatureMessage(orderRef, paymentRef string) []byte {
	return []byte(orderRef + "|" + paymentRef)
}
