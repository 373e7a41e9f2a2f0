package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"shop-service/internal/models"
	"shop-service/internal/payment"
	"shop-service/internal/redisclient"
	"shop-service/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// fakeLedger keeps orders in memory with the same transition rules as the
// Postgres store.
type fakeLedger struct {
	mu        sync.Mutex
	nextID    int64
	orders    map[int64]*models.Order
	items     map[int64][]models.OrderItem
	prices    map[int64]decimal.Decimal
	processed map[string]string

	placeErr       error
	placeCalls     int
	markPaidCalls  int
	markPaidFails  int
	missKeyLookups int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		orders:    map[int64]*models.Order{},
		items:     map[int64][]models.OrderItem{},
		prices:    map[int64]decimal.Decimal{},
		processed: map[string]string{},
	}
}

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	c.Items = nil
	return &c
}

func strPtr(s string) *string { return &s }

// seedOrder stores an order directly, bypassing placement
func (f *fakeLedger) seedOrder(o models.Order) *models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	if o.ID == 0 {
		o.ID = f.nextID
	}
	if o.PaymentMethod == "" {
		o.PaymentMethod = models.PaymentMethodGateway
	}
	if o.Status == "" {
		o.Status = models.OrderStatusPending
	}
	f.orders[o.ID] = &o
	return cloneOrder(&o)
}

func (f *fakeLedger) order(id int64) *models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneOrder(f.orders[id])
}

func (f *fakeLedger) PlaceOrder(ctx context.Context, p store.PlaceOrderParams) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.placeCalls++
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	if p.IdempotencyKey != "" {
		for _, o := range f.orders {
			if o.ClientID == p.ClientID && o.IdempotencyKey != nil && *o.IdempotencyKey == p.IdempotencyKey {
				return nil, fmt.Errorf("%w: duplicate idempotency key", models.ErrConflict)
			}
		}
	}

	f.nextID++
	addressID := p.AddressID
	order := &models.Order{
		ID:            f.nextID,
		ClientID:      p.ClientID,
		AddressID:     &addressID,
		PaymentMethod: p.PaymentMethod,
		Status:        models.OrderStatusPending,
	}
	if p.IdempotencyKey != "" {
		order.IdempotencyKey = strPtr(p.IdempotencyKey)
	}

	total := decimal.Zero
	var items []models.OrderItem
	for i, line := range p.Lines {
		price, ok := f.prices[line.ProductID]
		if !ok {
			price = decimal.RequireFromString("10.00")
		}
		productID := line.ProductID
		item := models.OrderItem{
			ID:        order.ID*100 + int64(i),
			OrderID:   order.ID,
			ProductID: &productID,
			Price:     price,
			Quantity:  line.Quantity,
		}
		total = total.Add(item.Subtotal())
		items = append(items, item)
	}
	order.TotalAmount = total
	f.orders[order.ID] = order
	f.items[order.ID] = items

	out := cloneOrder(order)
	out.Items = append([]models.OrderItem(nil), items...)
	return out, nil
}

func (f *fakeLedger) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %d", models.ErrNotFound, id)
	}
	return cloneOrder(o), nil
}

func (f *fakeLedger) GetOrderByIdempotencyKey(ctx context.Context, clientID, key string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missKeyLookups > 0 {
		f.missKeyLookups--
		return nil, nil
	}
	for _, o := range f.orders {
		if o.ClientID == clientID && o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			return cloneOrder(o), nil
		}
	}
	return nil, nil
}

func (f *fakeLedger) ListOrdersByClient(ctx context.Context, clientID string) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	orders := []models.Order{}
	for _, o := range f.orders {
		if o.ClientID == clientID {
			orders = append(orders, *cloneOrder(o))
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID > orders[j].ID })
	return orders, nil
}

func (f *fakeLedger) GetOrderItemsByOrderIDs(ctx context.Context, orderIDs []int64) ([]models.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []models.OrderItem
	for _, id := range orderIDs {
		items = append(items, f.items[id]...)
	}
	return items, nil
}

func (f *fakeLedger) AttachGatewayOrder(ctx context.Context, orderID int64, ref string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %d", models.ErrNotFound, orderID)
	}
	if o.GatewayOrderRef == nil && o.Status == models.OrderStatusPending {
		o.GatewayOrderRef = strPtr(ref)
	}
	return cloneOrder(o), nil
}

func (f *fakeLedger) MarkPaid(ctx context.Context, orderRef, paymentRef, signature string) (*models.Order, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.markPaidCalls++
	if f.markPaidFails > 0 {
		f.markPaidFails--
		return nil, false, fmt.Errorf("%w: lock timeout", models.ErrBusy)
	}

	var order *models.Order
	for _, o := range f.orders {
		if o.GatewayOrderRef != nil && *o.GatewayOrderRef == orderRef {
			order = o
		}
	}
	if order == nil {
		return nil, false, fmt.Errorf("%w: gateway order %s", models.ErrNotFound, orderRef)
	}

	switch order.Status {
	case models.OrderStatusPending:
		order.Status = models.OrderStatusPaid
		order.GatewayPaymentRef = strPtr(paymentRef)
		if signature != "" {
			order.GatewaySignature = strPtr(signature)
		}
		return cloneOrder(order), true, nil
	case models.OrderStatusCancelled:
		return cloneOrder(order), false, fmt.Errorf("%w: cancelled", models.ErrConflict)
	default:
		if order.GatewayPaymentRef != nil && *order.GatewayPaymentRef == paymentRef {
			return cloneOrder(order), false, nil
		}
		return cloneOrder(order), false, fmt.Errorf("%w: different payment reference", models.ErrConflict)
	}
}

func (f *fakeLedger) AdvanceStatus(ctx context.Context, orderID int64, to models.OrderStatus) (*models.Order, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return nil, false, fmt.Errorf("%w: order %d", models.ErrNotFound, orderID)
	}
	if o.Status == to {
		return cloneOrder(o), false, nil
	}
	if err := models.ValidateTransition(o.Status, to); err != nil {
		return nil, false, err
	}
	o.Status = to
	return cloneOrder(o), true, nil
}

func (f *fakeLedger) CancelOrder(ctx context.Context, orderID int64) (*models.Order, bool, error) {
	return f.AdvanceStatus(ctx, orderID, models.OrderStatusCancelled)
}

func (f *fakeLedger) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.processed[eventID]
	return ok, nil
}

func (f *fakeLedger) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed[eventID] = eventType
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	placed []*models.OrderPlacedEvent
	paid   []*models.OrderPaidEvent
	err    error
}

func (p *fakePublisher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.placed = append(p.placed, event)
	return p.err
}

func (p *fakePublisher) PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paid = append(p.paid, event)
	return p.err
}

func (p *fakePublisher) paidCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.paid)
}

const (
	testKeySecret     = "key-secret"
	testWebhookSecret = "whsec"
)

// fakeGateway signs like the real gateway but never leaves the process
type fakeGateway struct {
	keySecret     string
	webhookSecret string
	createErr     error
	onCreate      func()
	creates       atomic.Int32
	lastAmount    atomic.Int64
	lastReceipt   atomic.Value
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{keySecret: testKeySecret, webhookSecret: testWebhookSecret}
}

func (g *fakeGateway) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*payment.RemoteOrder, error) {
	n := g.creates.Add(1)
	g.lastAmount.Store(amountMinor)
	g.lastReceipt.Store(receipt)
	if g.onCreate != nil {
		g.onCreate()
	}
	if g.createErr != nil {
		return nil, g.createErr
	}
	return &payment.RemoteOrder{
		ID:       fmt.Sprintf("order_R%d", n),
		Amount:   amountMinor,
		Currency: currency,
		Receipt:  receipt,
		Status:   "created",
	}, nil
}

func (g *fakeGateway) VerifyPaymentSignature(orderRef, paymentRef, signature string) error {
	return payment.VerifyHMAC(g.keySecret, payment.PaymentSignatureMessage(orderRef, paymentRef), signature)
}

func (g *fakeGateway) VerifyWebhookSignature(body []byte, signature string) error {
	return payment.VerifyHMAC(g.webhookSecret, body, signature)
}

func (g *fakeGateway) PublicKey() string { return "rzp_test_public" }

func newReplayGuard(t *testing.T) (*redisclient.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redisclient.NewFromRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

var errBoom = errors.New("boom")
