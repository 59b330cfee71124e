package collaborator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/lib/pq"
)

// RecentOrders is how many orders a profile lookup loads.
const RecentOrders = 3

// PostgresProfileStore reads profiles and order history from Postgres.
//
//	profiles(identity text primary key, name text, favorite_colors text[], budget text, sizes text[])
//	orders(id text primary key, identity text, items text[], total numeric, placed_at timestamptz)
type PostgresProfileStore struct {
	db *sql.DB
}

// OpenPostgresProfileStore opens and pings dsn.
func OpenPostgresProfileStore(ctx context.Context, dsn string) (*PostgresProfileStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open profiles db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping profiles db: %w", err)
	}
	db.SetMaxOpenConns(10)
	return &PostgresProfileStore{db: db}, nil
}

func NewPostgresProfileStore(db *sql.DB) *PostgresProfileStore {
	return &PostgresProfileStore{db: db}
}

func (s *PostgresProfileStore) Close() error {
	return s.db.Close()
}

const profileQuery = `
	SELECT identity, COALESCE(name, ''), COALESCE(favorite_colors, '{}'), COALESCE(budget, ''), COALESCE(sizes, '{}')
	FROM profiles WHERE identity = $1`

const ordersQuery = `
	SELECT id, COALESCE(items, '{}'), total, placed_at
	FROM orders WHERE identity = $1
	ORDER BY placed_at DESC LIMIT $2`

func (s *PostgresProfileStore) GetProfile(ctx context.Context, identity string) (*Profile, error) {
	var p Profile
	err := s.db.QueryRowContext(ctx, profileQuery, identity).Scan(
		&p.Identity, &p.Name, pq.Array(&p.FavoriteColors), &p.Budget, pq.Array(&p.Sizes),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %v: %w", identity, err, ErrUnavailable)
	}

	rows, err := s.db.QueryContext(ctx, ordersQuery, identity, RecentOrders)
	if err != nil {
		return nil, fmt.Errorf("load orders %s: %v: %w", identity, err, ErrUnavailable)
	}
	defer rows.Close()

	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, pq.Array(&o.Items), &o.Total, &o.PlacedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		p.Orders = append(p.Orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %v: %w", err, ErrUnavailable)
	}
	return &p, nil
}

// MemoryProfileStore serves profiles seeded at startup. It backs local runs
// without a database.
type MemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func NewMemoryProfileStore(profiles ...Profile) *MemoryProfileStore {
	m := &MemoryProfileStore{profiles: make(map[string]Profile)}
	for _, p := range profiles {
		m.profiles[p.Identity] = p
	}
	return m
}

func (m *MemoryProfileStore) Put(p Profile) {
	m.mu.Lock()
	m.profiles[p.Identity] = p
	m.mu.Unlock()
}

func (m *MemoryProfileStore) GetProfile(_ context.Context, identity string) (*Profile, error) {
	m.mu.RLock()
	p, ok := m.profiles[identity]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if len(p.Orders) > RecentOrders {
		p.Orders = append([]Order(nil), p.Orders[:RecentOrders]...)
	}
	return &p, nil
}
