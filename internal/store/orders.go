package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"shop-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// OrderLine is one requested line of a new order.
type OrderLine struct {
	ProductID int64
	Quantity  int
	// Price is the unit price the client was shown; nil skips the comparison.
	Price *decimal.Decimal
}

// PlaceOrderParams carries a validated order placement request.
type PlaceOrderParams struct {
	ClientID       string
	AddressID      int64
	PaymentMethod  models.PaymentMethod
	IdempotencyKey string
	Lines          []OrderLine
}

// PlaceOrder creates an order and its items and decrements stock in one
// transaction. Product rows are locked FOR UPDATE in ascending id order, and
// unit prices come from the locked rows. Any failure rolls back everything.
func (s *Store) PlaceOrder(ctx context.Context, p PlaceOrderParams) (*models.Order, error) {
	ids, demand, err := demandByProduct(p.Lines)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if s.lockTimeout > 0 {
		// SET does not accept bind parameters
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}

	var owner string
	err = tx.GetContext(ctx, &owner, "SELECT client_id FROM addresses WHERE id = $1", p.AddressID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != p.ClientID) {
		return nil, fmt.Errorf("%w: address %d", models.ErrNotFound, p.AddressID)
	}
	if err != nil {
		return nil, translateError(err)
	}

	order := &models.Order{}
	err = tx.GetContext(ctx, order, `
		INSERT INTO orders (client_id, address_id, total_amount, payment_method, status, idempotency_key)
		VALUES ($1, $2, 0, $3, $4, $5)
		RETURNING *`,
		p.ClientID, p.AddressID, p.PaymentMethod, models.OrderStatusPending, nullString(p.IdempotencyKey))
	if err != nil {
		return nil, translateError(err)
	}

	products, err := lockProducts(ctx, tx, ids, demand)
	if err != nil {
		return nil, err
	}

	for _, line := range p.Lines {
		catalog := products[line.ProductID].Price
		if line.Price != nil && !line.Price.Equal(catalog) {
			return nil, fmt.Errorf("%w: price of product %d changed from %s to %s",
				models.ErrValidation, line.ProductID, line.Price.StringFixed(2), catalog.StringFixed(2))
		}
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			"UPDATE products SET stock = stock - $1 WHERE id = $2", demand[id], id); err != nil {
			return nil, translateError(err)
		}
	}

	total := decimal.Zero
	order.Items = make([]models.OrderItem, 0, len(p.Lines))
	for _, line := range p.Lines {
		productID := line.ProductID
		item := models.OrderItem{
			OrderID:   order.ID,
			ProductID: &productID,
			Price:     products[line.ProductID].Price,
			Quantity:  line.Quantity,
		}
		err := tx.GetContext(ctx, &item.ID, `
			INSERT INTO order_items (order_id, product_id, price, quantity)
			VALUES ($1, $2, $3, $4)
			RETURNING id`,
			item.OrderID, item.ProductID, item.Price, item.Quantity)
		if err != nil {
			return nil, translateError(err)
		}
		total = total.Add(item.Subtotal())
		order.Items = append(order.Items, item)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE orders SET total_amount = $1, updated_at = NOW() WHERE id = $2", total, order.ID); err != nil {
		return nil, translateError(err)
	}
	order.TotalAmount = total

	if err := tx.Commit(); err != nil {
		return nil, translateError(err)
	}
	return order, nil
}

// lockProducts takes row locks on ids, in the given order, and verifies the
// summed demand against stock read under the lock.
func lockProducts(ctx context.Context, tx *sqlx.Tx, ids []int64, demand map[int64]int) (map[int64]*models.Product, error) {
	products := make(map[int64]*models.Product, len(ids))
	for _, id := range ids {
		var product models.Product
		err := tx.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1 FOR UPDATE", id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %d", models.ErrNotFound, id)
		}
		if err != nil {
			return nil, translateError(err)
		}
		if product.Stock < demand[id] {
			return nil, fmt.Errorf("%w: product %d has %d left, requested %d",
				models.ErrInsufficientStock, id, product.Stock, demand[id])
		}
		products[id] = &product
	}
	return products, nil
}

// demandByProduct sums quantities per product and returns the product ids in
// ascending order, the lock order shared by every writer of products. Each
// line and each sum must stay within 1..MaxLineQuantity.
func demandByProduct(lines []OrderLine) ([]int64, map[int64]int, error) {
	demand := make(map[int64]int, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 || line.Quantity > models.MaxLineQuantity {
			return nil, nil, fmt.Errorf("%w: product %d quantity %d out of range",
				models.ErrValidation, line.ProductID, line.Quantity)
		}
		if _, seen := demand[line.ProductID]; !seen {
			ids = append(ids, line.ProductID)
		}
		if demand[line.ProductID] > models.MaxLineQuantity-line.Quantity {
			return nil, nil, fmt.Errorf("%w: product %d total quantity exceeds %d",
				models.ErrValidation, line.ProductID, models.MaxLineQuantity)
		}
		demand[line.ProductID] += line.Quantity
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, demand, nil
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %d", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByGatewayRef retrieves an order by its gateway order reference
func (s *Store) GetOrderByGatewayRef(ctx context.Context, ref string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE gateway_order_ref = $1", ref)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: gateway order %s", models.ErrNotFound, ref)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey returns nil, nil when no order was placed with key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, clientID, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE client_id = $1 AND idempotency_key = $2", clientID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrdersByClient retrieves orders for a client, newest first
func (s *Store) ListOrdersByClient(ctx context.Context, clientID string) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE client_id = $1 ORDER BY created_at DESC, id DESC", clientID)
	return orders, err
}

// GetOrderItemsByOrderIDs retrieves the items of several orders at once
func (s *Store) GetOrderItemsByOrderIDs(ctx context.Context, orderIDs []int64) ([]models.OrderItem, error) {
	if len(orderIDs) == 0 {
		return []models.OrderItem{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM order_items WHERE order_id IN (?) ORDER BY id", orderIDs)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var items []models.OrderItem
	err = s.db.SelectContext(ctx, &items, query, args...)
	return items, err
}

// AttachGatewayOrder records the gateway order reference on a pending order
// that has none yet. When another request won the race the stored order is
// returned unchanged; callers compare the reference.
func (s *Store) AttachGatewayOrder(ctx context.Context, orderID int64, ref string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, `
		UPDATE orders SET gateway_order_ref = $1, updated_at = NOW()
		WHERE id = $2 AND gateway_order_ref IS NULL AND status = $3
		RETURNING *`, ref, orderID, models.OrderStatusPending)
	if errors.Is(err, sql.ErrNoRows) {
		return s.GetOrderByID(ctx, orderID)
	}
	if err != nil {
		return nil, translateError(err)
	}
	return &order, nil
}

// MarkPaid moves the order identified by its gateway reference from pending
// to paid and records the payment reference. The bool reports whether this
// call performed the transition. A repeat with the same payment reference is
// a no-op; a different payment reference on an already paid order, or a
// cancelled order, yields ErrConflict and leaves the row untouched.
func (s *Store) MarkPaid(ctx context.Context, orderRef, paymentRef, signature string) (*models.Order, bool, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, `
		UPDATE orders
		SET status = $4, gateway_payment_ref = $2,
		    gateway_signature = COALESCE($3, gateway_signature), updated_at = NOW()
		WHERE gateway_order_ref = $1 AND status = $5
		RETURNING *`,
		orderRef, paymentRef, nullString(signature), models.OrderStatusPaid, models.OrderStatusPending)
	if err == nil {
		return &order, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, translateError(err)
	}

	current, err := s.GetOrderByGatewayRef(ctx, orderRef)
	if err != nil {
		return nil, false, err
	}

	switch current.Status {
	case models.OrderStatusPaid, models.OrderStatusShipped, models.OrderStatusDelivered:
		if current.GatewayPaymentRef != nil && *current.GatewayPaymentRef == paymentRef {
			return current, false, nil
		}
		return current, false, fmt.Errorf("%w: order %d already paid with a different payment reference",
			models.ErrConflict, current.ID)
	case models.OrderStatusCancelled:
		return current, false, fmt.Errorf("%w: order %d is cancelled", models.ErrConflict, current.ID)
	default:
		return current, false, fmt.Errorf("%w: order %d changed concurrently", models.ErrBusy, current.ID)
	}
}

// AdvanceStatus moves an order forward along the fulfillment path. Moving to
// the current status is a no-op reported with false.
func (s *Store) AdvanceStatus(ctx context.Context, orderID int64, to models.OrderStatus) (*models.Order, bool, error) {
	current, err := s.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, false, err
	}
	if current.Status == to {
		return current, false, nil
	}
	if err := models.ValidateTransition(current.Status, to); err != nil {
		return current, false, err
	}

	var order models.Order
	err = s.db.GetContext(ctx, &order, `
		UPDATE orders SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
		RETURNING *`, orderID, to, current.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("%w: order %d changed concurrently", models.ErrBusy, orderID)
	}
	if err != nil {
		return nil, false, translateError(err)
	}
	return &order, true, nil
}

// CancelOrder cancels a pending order and returns its quantities to stock
// in the same transaction. Items whose product was deleted are skipped.
func (s *Store) CancelOrder(ctx context.Context, orderID int64) (*models.Order, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("%w: order %d", models.ErrNotFound, orderID)
	}
	if err != nil {
		return nil, false, translateError(err)
	}
	if order.Status == models.OrderStatusCancelled {
		return &order, false, nil
	}
	if err := models.ValidateTransition(order.Status, models.OrderStatusCancelled); err != nil {
		return &order, false, err
	}

	var items []models.OrderItem
	if err := tx.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY product_id", orderID); err != nil {
		return nil, false, err
	}
	for _, item := range items {
		if item.ProductID == nil {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE products SET stock = stock + $1 WHERE id = $2", item.Quantity, *item.ProductID); err != nil {
			return nil, false, translateError(err)
		}
	}

	err = tx.GetContext(ctx, &order, `
		UPDATE orders SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING *`, orderID, models.OrderStatusCancelled)
	if err != nil {
		return nil, false, translateError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, translateError(err)
	}
	return &order, true, nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
