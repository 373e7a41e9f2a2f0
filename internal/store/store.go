package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"shop-service/internal/models"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type Store struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

// NewStore creates a new database store
func NewStore(databaseURL string, lockTimeout time.Duration) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewStoreFromDB(db, lockTimeout), nil
}

// NewStoreFromDB wraps an existing connection pool.
func NewStoreFromDB(db *sqlx.DB, lockTimeout time.Duration) *Store {
	return &Store{db: db, lockTimeout: lockTimeout}
}

// RunMigrations applies every pending migration found under migrationsPath.
func RunMigrations(databaseURL, migrationsPath string) error {
	m, err := migrate.New("file://"+migrationsPath, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: product %d", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// CreateAddress inserts an address for its owner
func (s *Store) CreateAddress(ctx context.Context, addr *models.Address) error {
	query := `
		INSERT INTO addresses (client_id, name, phone, street, city, pincode)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, updated_at`

	row := s.db.QueryRowxContext(ctx, query,
		addr.ClientID, addr.Name, addr.Phone, addr.Street, addr.City, addr.Pincode)
	return row.Scan(&addr.ID, &addr.UpdatedAt)
}

// ListAddressesByClient returns the addresses owned by clientID, most recently updated first
func (s *Store) ListAddressesByClient(ctx context.Context, clientID string) ([]models.Address, error) {
	addresses := []models.Address{}
	err := s.db.SelectContext(ctx, &addresses,
		"SELECT * FROM addresses WHERE client_id = $1 ORDER BY updated_at DESC", clientID)
	return addresses, err
}

// ToggleWishlist removes the entry if present and adds it otherwise.
// It reports whether the product is wished for afterwards.
func (s *Store) ToggleWishlist(ctx context.Context, clientID string, productID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM wishlist WHERE client_id = $1 AND product_id = $2", clientID, productID)
	if err != nil {
		return false, fmt.Errorf("failed to remove wishlist entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return false, nil
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO wishlist (client_id, product_id) VALUES ($1, $2)
		 ON CONFLICT (client_id, product_id) DO NOTHING`, clientID, productID)
	if err != nil {
		return false, translateError(err)
	}
	return true, nil
}

// ListWishlist returns the wished-for products of clientID
func (s *Store) ListWishlist(ctx context.Context, clientID string) ([]models.Product, error) {
	products := []models.Product{}
	err := s.db.SelectContext(ctx, &products, `
		SELECT p.* FROM products p
		JOIN wishlist w ON w.product_id = p.id
		WHERE w.client_id = $1
		ORDER BY w.created_at DESC`, clientID)
	return products, err
}

// translateError maps postgres error codes onto the shared error taxonomy.
func translateError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	switch pqErr.Code {
	case "55P03", "40P01": // lock_not_available, deadlock_detected
		return fmt.Errorf("%w: %v", models.ErrBusy, err)
	case "23505": // unique_violation
		return fmt.Errorf("%w: %v", models.ErrConflict, err)
	case "23503": // foreign_key_violation
		return fmt.Errorf("%w: referenced row does not exist", models.ErrNotFound)
	case "22003": // numeric_value_out_of_range
		return fmt.Errorf("%w: %v", models.ErrValidation, err)
	case "23514": // check_violation, only stock >= 0 today
		return fmt.Errorf("%w: %v", models.ErrInsufficientStock, err)
	}
	return err
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
