package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type ItemInput struct {
	Code     string
	Name     string
	BaseUnit string
	PackSize decimal.Decimal
}

type SupplierInput struct {
	Code    string
	Name    string
	Phone   string
	Address string
}

type CustomerInput struct {
	Code            string
	Name            string
	Phone           string
	Address         string
	PreviousBalance decimal.Decimal
}

// CatalogService manages the master records the ledger references. Masters
// are soft-deactivated, never deleted, because ledger rows point at them.
type CatalogService interface {
	CreateItem(ctx context.Context, input ItemInput) (*Item, error)
	GetItemByCode(ctx context.Context, code string) (*Item, error)
	ListItems(ctx context.Context) ([]Item, error)
	DeactivateItem(ctx context.Context, code string) error

	CreateSupplier(ctx context.Context, input SupplierInput) (*Supplier, error)
	ListSuppliers(ctx context.Context) ([]Supplier, error)

	CreateCustomer(ctx context.Context, input CustomerInput) (*Customer, error)
	GetCustomerByCode(ctx context.Context, code string) (*Customer, error)
	ListCustomers(ctx context.Context) ([]Customer, error)
}

type catalogService struct {
	pool *pgxpool.Pool
}

func NewCatalogService(pool *pgxpool.Pool) CatalogService {
	return &catalogService{pool: pool}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *catalogService) CreateItem(ctx context.Context, input ItemInput) (*Item, error) {
	if input.Code == "" {
		return nil, invalidf("code", "item code is required")
	}
	if input.Name == "" {
		return nil, invalidf("name", "item name is required")
	}
	if input.BaseUnit == "" {
		return nil, invalidf("baseUnit", "base unit is required")
	}
	packSize := input.PackSize
	if packSize.IsZero() {
		packSize = decimal.NewFromInt(1)
	}
	if packSize.LessThan(decimal.NewFromInt(1)) {
		return nil, invalidf("packSize", "must be at least 1, got %s", packSize)
	}

	item := &Item{
		Code:               input.Code,
		Name:               input.Name,
		BaseUnit:           input.BaseUnit,
		PackSize:           packSize,
		CurrentAverageCost: decimal.Zero,
		IsActive:           true,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO items (code, name, base_unit, pack_size)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`, input.Code, input.Name, input.BaseUnit, packSize,
	).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, invalidf("code", "item code %s already exists", input.Code)
		}
		return nil, fmt.Errorf("create item %s: %w", input.Code, err)
	}
	return item, nil
}

func (s *catalogService) GetItemByCode(ctx context.Context, code string) (*Item, error) {
	var it Item
	err := s.pool.QueryRow(ctx, `
		SELECT id, code, name, base_unit, pack_size, current_average_cost,
		       is_active, created_at, updated_at
		FROM items WHERE code = $1
	`, code).Scan(
		&it.ID, &it.Code, &it.Name, &it.BaseUnit, &it.PackSize,
		&it.CurrentAverageCost, &it.IsActive, &it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("item %s not found", code)
		}
		return nil, fmt.Errorf("get item %s: %w", code, err)
	}
	return &it, nil
}

func (s *catalogService) ListItems(ctx context.Context) ([]Item, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, code, name, base_unit, pack_size, current_average_cost,
		       is_active, created_at, updated_at
		FROM items WHERE is_active = true ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(
			&it.ID, &it.Code, &it.Name, &it.BaseUnit, &it.PackSize,
			&it.CurrentAverageCost, &it.IsActive, &it.CreatedAt, &it.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *catalogService) DeactivateItem(ctx context.Context, code string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE items SET is_active = false, updated_at = NOW() WHERE code = $1", code)
	if err != nil {
		return fmt.Errorf("deactivate item %s: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s not found", code)
	}
	return nil
}

func (s *catalogService) CreateSupplier(ctx context.Context, input SupplierInput) (*Supplier, error) {
	if input.Code == "" {
		return nil, invalidf("code", "supplier code is required")
	}
	if input.Name == "" {
		return nil, invalidf("name", "supplier name is required")
	}

	sup := &Supplier{
		Code:     input.Code,
		Name:     input.Name,
		Phone:    input.Phone,
		Address:  input.Address,
		IsActive: true,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO suppliers (code, name, phone, address)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, input.Code, input.Name, input.Phone, input.Address).Scan(&sup.ID, &sup.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, invalidf("code", "supplier code %s already exists", input.Code)
		}
		return nil, fmt.Errorf("create supplier %s: %w", input.Code, err)
	}
	return sup, nil
}

func (s *catalogService) ListSuppliers(ctx context.Context) ([]Supplier, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, code, name, phone, address, is_active, created_at
		FROM suppliers WHERE is_active = true ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("list suppliers: %w", err)
	}
	defer rows.Close()

	var suppliers []Supplier
	for rows.Next() {
		var sup Supplier
		if err := rows.Scan(
			&sup.ID, &sup.Code, &sup.Name, &sup.Phone, &sup.Address,
			&sup.IsActive, &sup.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan supplier: %w", err)
		}
		suppliers = append(suppliers, sup)
	}
	return suppliers, rows.Err()
}

func (s *catalogService) CreateCustomer(ctx context.Context, input CustomerInput) (*Customer, error) {
	if input.Code == "" {
		return nil, invalidf("code", "customer code is required")
	}
	if input.Name == "" {
		return nil, invalidf("name", "customer name is required")
	}

	cust := &Customer{
		Code:            input.Code,
		Name:            input.Name,
		Phone:           input.Phone,
		Address:         input.Address,
		PreviousBalance: input.PreviousBalance,
		IsActive:        true,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO customers (code, name, phone, address, previous_balance)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, input.Code, input.Name, input.Phone, input.Address, input.PreviousBalance,
	).Scan(&cust.ID, &cust.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, invalidf("code", "customer code %s already exists", input.Code)
		}
		return nil, fmt.Errorf("create customer %s: %w", input.Code, err)
	}
	return cust, nil
}

func (s *catalogService) GetCustomerByCode(ctx context.Context, code string) (*Customer, error) {
	var c Customer
	err := s.pool.QueryRow(ctx, `
		SELECT id, code, name, phone, address, previous_balance, is_active, created_at
		FROM customers WHERE code = $1
	`, code).Scan(
		&c.ID, &c.Code, &c.Name, &c.Phone, &c.Address,
		&c.PreviousBalance, &c.IsActive, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("customer %s not found", code)
		}
		return nil, fmt.Errorf("get customer %s: %w", code, err)
	}
	return &c, nil
}

func (s *catalogService) ListCustomers(ctx context.Context) ([]Customer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, code, name, phone, address, previous_balance, is_active, created_at
		FROM customers WHERE is_active = true ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	var customers []Customer
	for rows.Next() {
		var c Customer
		if err := rows.Scan(
			&c.ID, &c.Code, &c.Name, &c.Phone, &c.Address,
			&c.PreviousBalance, &c.IsActive, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}
