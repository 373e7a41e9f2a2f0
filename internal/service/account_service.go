package service

import (
	"context"
	"fmt"
	"strings"

	"shop-service/internal/models"
	"shop-service/internal/util"

	"go.uber.org/zap"
)

// AccountService serves the address book and wishlist
type AccountService struct {
	store  AccountStore
	logger *zap.Logger
}

func NewAccountService(store AccountStore) *AccountService {
	return &AccountService{store: store, logger: util.GetLogger()}
}

// AddressRequest represents a new delivery address
type AddressRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Street  string `json:"street"`
	City    string `json:"city"`
	Pincode string `json:"pincode"`
}

func (r *AddressRequest) normalize() error {
	fields := []struct {
		name  string
		value *string
	}{
		{"name", &r.Name},
		{"phone", &r.Phone},
		{"street", &r.Street},
		{"city", &r.City},
		{"pincode", &r.Pincode},
	}
	for _, f := range fields {
		*f.value = strings.TrimSpace(*f.value)
		if *f.value == "" {
			return fmt.Errorf("%w: %s is required", models.ErrValidation, f.name)
		}
	}
	return nil
}

// CreateAddress stores a new address for clientID
func (s *AccountService) CreateAddress(ctx context.Context, clientID string, req *AddressRequest) (*models.Address, error) {
	ctx, span := util.StartSpan(ctx, "AccountService.CreateAddress")
	defer span.End()

	if err := req.normalize(); err != nil {
		return nil, err
	}

	addr := &models.Address{
		ClientID: clientID,
		Name:     req.Name,
		Phone:    req.Phone,
		Street:   req.Street,
		City:     req.City,
		Pincode:  req.Pincode,
	}
	if err := s.store.CreateAddress(ctx, addr); err != nil {
		return nil, fmt.Errorf("failed to create address: %w", err)
	}

	s.logger.Info("Address created", zap.Int64("address_id", addr.ID), zap.String("client_id", clientID))
	return addr, nil
}

func (s *AccountService) ListAddresses(ctx context.Context, clientID string) ([]models.Address, error) {
	return s.store.ListAddressesByClient(ctx, clientID)
}

// ToggleWishlist adds productID to the wishlist, or removes it when present.
// It reports whether the product is now on the list.
func (s *AccountService) ToggleWishlist(ctx context.Context, clientID string, productID int64) (bool, error) {
	ctx, span := util.StartSpan(ctx, "AccountService.ToggleWishlist")
	defer span.End()

	if productID <= 0 {
		return false, fmt.Errorf("%w: product_id is required", models.ErrValidation)
	}
	if _, err := s.store.GetProductByID(ctx, productID); err != nil {
		return false, err
	}
	return s.store.ToggleWishlist(ctx, clientID, productID)
}

func (s *AccountService) ListWishlist(ctx context.Context, clientID string) ([]models.Product, error) {
	return s.store.ListWishlist(ctx, clientID)
}
