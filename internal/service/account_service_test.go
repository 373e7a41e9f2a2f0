package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"shop-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAccounts struct {
	mu        sync.Mutex
	products  map[int64]models.Product
	addresses []models.Address
	wishlist  map[string]map[int64]bool
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{
		products: map[int64]models.Product{1: {ID: 1, Name: "Tea"}},
		wishlist: map[string]map[int64]bool{},
	}
}

func (f *fakeAccounts) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: product %d", models.ErrNotFound, id)
	}
	return &p, nil
}

func (f *fakeAccounts) CreateAddress(ctx context.Context, addr *models.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	addr.ID = int64(len(f.addresses) + 1)
	f.addresses = append(f.addresses, *addr)
	return nil
}

func (f *fakeAccounts) ListAddressesByClient(ctx context.Context, clientID string) ([]models.Address, error) {
	var out []models.Address
	for _, a := range f.addresses {
		if a.ClientID == clientID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAccounts) ToggleWishlist(ctx context.Context, clientID string, productID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.wishlist[clientID] == nil {
		f.wishlist[clientID] = map[int64]bool{}
	}
	if f.wishlist[clientID][productID] {
		delete(f.wishlist[clientID], productID)
		return false, nil
	}
	f.wishlist[clientID][productID] = true
	return true, nil
}

func (f *fakeAccounts) ListWishlist(ctx context.Context, clientID string) ([]models.Product, error) {
	var out []models.Product
	for id := range f.wishlist[clientID] {
		out = append(out, f.products[id])
	}
	return out, nil
}

func TestCreateAddress(t *testing.T) {
	accounts := newFakeAccounts()
	svc := NewAccountService(accounts)

	addr, err := svc.CreateAddress(context.Background(), "c1", &AddressRequest{
		Name: " Asha ", Phone: "9999999999", Street: "12 MG Road", City: "Pune", Pincode: "411001",
	})
	require.NoError(t, err)
	assert.NotZero(t, addr.ID)
	assert.Equal(t, "Asha", addr.Name)
	assert.Equal(t, "c1", addr.ClientID)

	list, err := svc.ListAddresses(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = svc.CreateAddress(context.Background(), "c1", &AddressRequest{Name: "Asha", Phone: "1", Street: "x", City: "  "})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestToggleWishlist(t *testing.T) {
	svc := NewAccountService(newFakeAccounts())
	ctx := context.Background()

	added, err := svc.ToggleWishlist(ctx, "c1", 1)
	require.NoError(t, err)
	assert.True(t, added)

	list, err := svc.ListWishlist(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	added, err = svc.ToggleWishlist(ctx, "c1", 1)
	require.NoError(t, err)
	assert.False(t, added)

	_, err = svc.ToggleWishlist(ctx, "c1", 42)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = svc.ToggleWishlist(ctx, "c1", 0)
	assert.ErrorIs(t, err, models.ErrValidation)
}
