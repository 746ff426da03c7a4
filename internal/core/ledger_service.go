package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ── Inputs ────────────────────────────────────────────────────────────────────

type PurchaseLineInput struct {
	ItemCode        string
	SupplierCode    string
	Quantity        decimal.Decimal
	BonusQuantity   decimal.Decimal
	PurchaseRate    decimal.Decimal
	DiscountPercent decimal.Decimal
	PackMode        bool // quantity entered in full packs rather than pieces
	PurchaseDate    string
}

type PurchaseReturnInput struct {
	PurchaseLineID int
	Quantity       decimal.Decimal
	ReturnDate     string
}

type SaleLineInput struct {
	ItemCode        string
	Quantity        decimal.Decimal
	BonusQuantity   decimal.Decimal
	TradePrice      decimal.Decimal
	DiscountPercent decimal.Decimal
	TaxPercent      decimal.Decimal
	PackMode        bool
}

type SaleInvoiceInput struct {
	CustomerCode  string
	InvoiceDate   string
	AmountPaid    decimal.Decimal
	AllowNegative bool // explicit negative-stock override
	Lines         []SaleLineInput
}

type SaleReturnInput struct {
	SaleLineID int
	Quantity   decimal.Decimal
	ReturnDate string
}

type DamageInput struct {
	ItemCode      string
	SupplierCode  string
	Type          DamageType
	Quantity      decimal.Decimal
	PackMode      bool
	AllowNegative bool
	Notes         string
	DamageDate    string
}

// ── Interface ─────────────────────────────────────────────────────────────────

// LedgerService records the mutating events of the stock ledger. Every
// operation runs its ledger write, the availability check, and any dependent
// costing recompute inside one transaction, so concurrent disposals against
// the same item cannot both pass the check on a stale on-hand figure.
type LedgerService interface {
	RecordPurchaseLine(ctx context.Context, input PurchaseLineInput) (*PurchaseLine, error)
	// DeletePurchaseLine removes a purchase line with no returns against it.
	// Lines with returns must have the returns reversed first.
	DeletePurchaseLine(ctx context.Context, lineID int) error
	RecordPurchaseReturn(ctx context.Context, input PurchaseReturnInput) (*PurchaseReturn, error)
	DeletePurchaseReturn(ctx context.Context, returnID int) error

	// RecordSaleInvoice writes an invoice and its lines after gating every
	// line through the availability check. The returned shortage details are
	// non-empty only when negative stock was explicitly allowed; they are
	// reported for audit/warning display.
	RecordSaleInvoice(ctx context.Context, input SaleInvoiceInput) (*SaleInvoice, []StockShortageDetail, error)
	RecordSaleReturn(ctx context.Context, input SaleReturnInput) (*SaleReturn, error)
	RecordDamage(ctx context.Context, input DamageInput) (*DamageTransaction, []StockShortageDetail, error)

	// RecordPayment adds a collection against an invoice, shifting its
	// profit split from pending toward realized.
	RecordPayment(ctx context.Context, invoiceID int, amount decimal.Decimal) (*SaleInvoice, error)

	GetInvoice(ctx context.Context, invoiceID int) (*SaleInvoice, error)
}

type ledgerService struct {
	pool    *pgxpool.Pool
	costing CostingService
}

func NewLedgerService(pool *pgxpool.Pool, costing CostingService) LedgerService {
	return &ledgerService{pool: pool, costing: costing}
}

var hundred = decimal.NewFromInt(100)

// ── Validation helpers ────────────────────────────────────────────────────────

func parseDate(field, value string) error {
	if value == "" {
		return invalidf(field, "date is required")
	}
	if _, err := time.Parse("2006-01-02", value); err != nil {
		return invalidf(field, "invalid date %q, expected YYYY-MM-DD", value)
	}
	return nil
}

func validatePercent(field string, value decimal.Decimal) error {
	if value.IsNegative() || value.GreaterThan(hundred) {
		return invalidf(field, "must be between 0 and 100, got %s", value)
	}
	return nil
}

func validateQuantity(field string, value decimal.Decimal) error {
	if value.LessThanOrEqual(decimal.Zero) {
		return invalidf(field, "must be positive, got %s", value)
	}
	return nil
}

// lockItem resolves an item by code and takes a row lock on it, serializing
// availability checks and costing recomputes for that item.
func lockItem(ctx context.Context, tx pgx.Tx, itemCode string) (*Item, error) {
	var it Item
	err := tx.QueryRow(ctx, `
		SELECT id, code, name, base_unit, pack_size, current_average_cost
		FROM items
		WHERE code = $1 AND is_active = true
		FOR UPDATE
	`, itemCode).Scan(&it.ID, &it.Code, &it.Name, &it.BaseUnit, &it.PackSize, &it.CurrentAverageCost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, invalidf("itemCode", "item %s not found", itemCode)
		}
		return nil, fmt.Errorf("lock item %s: %w", itemCode, err)
	}
	return &it, nil
}

func lockItemByID(ctx context.Context, tx pgx.Tx, itemID int) error {
	var id int
	err := tx.QueryRow(ctx, "SELECT id FROM items WHERE id = $1 FOR UPDATE", itemID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("item %d not found", itemID)
		}
		return fmt.Errorf("lock item %d: %w", itemID, err)
	}
	return nil
}

func resolveSupplier(ctx context.Context, tx pgx.Tx, code string) (int, error) {
	var id int
	err := tx.QueryRow(ctx,
		"SELECT id FROM suppliers WHERE code = $1 AND is_active = true", code,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, invalidf("supplierCode", "supplier %s not found", code)
		}
		return 0, fmt.Errorf("resolve supplier %s: %w", code, err)
	}
	return id, nil
}

// ── Purchases ─────────────────────────────────────────────────────────────────

func (s *ledgerService) RecordPurchaseLine(ctx context.Context, input PurchaseLineInput) (*PurchaseLine, error) {
	if input.ItemCode == "" {
		return nil, invalidf("itemCode", "item code is required")
	}
	if input.SupplierCode == "" {
		return nil, invalidf("supplierCode", "supplier code is required")
	}
	if err := validateQuantity("quantity", input.Quantity); err != nil {
		return nil, err
	}
	if input.BonusQuantity.IsNegative() {
		return nil, invalidf("bonusQuantity", "cannot be negative, got %s", input.BonusQuantity)
	}
	if input.PurchaseRate.IsNegative() {
		return nil, invalidf("purchaseRate", "cannot be negative, got %s", input.PurchaseRate)
	}
	if err := validatePercent("discountPercent", input.DiscountPercent); err != nil {
		return nil, err
	}
	if err := parseDate("purchaseDate", input.PurchaseDate); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	item, err := lockItem(ctx, tx, input.ItemCode)
	if err != nil {
		return nil, err
	}
	supplierID, err := resolveSupplier(ctx, tx, input.SupplierCode)
	if err != nil {
		return nil, err
	}

	quantity := NormalizeUnits(input.Quantity, item.PackSize, input.PackMode)
	bonus := NormalizeUnits(input.BonusQuantity, item.PackSize, input.PackMode)

	// Paid value for the line: bonus units carry zero cost.
	discountFactor := decimal.NewFromInt(1).Sub(input.DiscountPercent.Div(hundred))
	netAmount := quantity.Mul(input.PurchaseRate).Mul(discountFactor).Round(2)

	line := &PurchaseLine{
		ItemID:          item.ID,
		ItemCode:        item.Code,
		SupplierID:      supplierID,
		Quantity:        quantity,
		BonusQuantity:   bonus,
		PurchaseRate:    input.PurchaseRate,
		DiscountPercent: input.DiscountPercent,
		NetAmount:       netAmount,
		PurchaseDate:    input.PurchaseDate,
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO purchase_lines
		            (item_id, supplier_id, quantity, bonus_quantity, purchase_rate,
		             discount_percent, net_amount, purchase_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, item.ID, supplierID, quantity, bonus, input.PurchaseRate,
		input.DiscountPercent, netAmount, input.PurchaseDate,
	).Scan(&line.ID, &line.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert purchase line: %w", err)
	}

	// Same-transaction recompute: a failed recompute rolls the insert back.
	if _, err := s.costing.RecalculateAverageCostTx(ctx, tx, item.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit purchase line: %w", err)
	}
	return line, nil
}

func (s *ledgerService) DeletePurchaseLine(ctx context.Context, lineID int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var itemID int
	if err := tx.QueryRow(ctx,
		"SELECT item_id FROM purchase_lines WHERE id = $1", lineID,
	).Scan(&itemID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return invalidf("purchaseLineID", "purchase line %d not found", lineID)
		}
		return fmt.Errorf("fetch purchase line %d: %w", lineID, err)
	}

	if err := lockItemByID(ctx, tx, itemID); err != nil {
		return err
	}

	var returnCount int
	if err := tx.QueryRow(ctx,
		"SELECT count(*) FROM purchase_returns WHERE purchase_line_id = $1", lineID,
	).Scan(&returnCount); err != nil {
		return fmt.Errorf("check returns for purchase line %d: %w", lineID, err)
	}
	if returnCount > 0 {
		return invalidf("purchaseLineID",
			"purchase line %d has %d return(s) against it; reverse them first", lineID, returnCount)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM purchase_lines WHERE id = $1", lineID); err != nil {
		return fmt.Errorf("delete purchase line %d: %w", lineID, err)
	}

	if _, err := s.costing.RecalculateAverageCostTx(ctx, tx, itemID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit purchase line delete: %w", err)
	}
	return nil
}

func (s *ledgerService) RecordPurchaseReturn(ctx context.Context, input PurchaseReturnInput) (*PurchaseReturn, error) {
	if err := validateQuantity("quantity", input.Quantity); err != nil {
		return nil, err
	}
	if err := parseDate("returnDate", input.ReturnDate); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var itemID int
	var acquiredUnits decimal.Decimal
	if err := tx.QueryRow(ctx,
		"SELECT item_id, quantity + bonus_quantity FROM purchase_lines WHERE id = $1",
		input.PurchaseLineID,
	).Scan(&itemID, &acquiredUnits); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, invalidf("purchaseLineID", "purchase line %d not found", input.PurchaseLineID)
		}
		return nil, fmt.Errorf("fetch purchase line %d: %w", input.PurchaseLineID, err)
	}

	if err := lockItemByID(ctx, tx, itemID); err != nil {
		return nil, err
	}

	var alreadyReturned decimal.Decimal
	if err := tx.QueryRow(ctx,
		"SELECT COALESCE(SUM(quantity), 0) FROM purchase_returns WHERE purchase_line_id = $1",
		input.PurchaseLineID,
	).Scan(&alreadyReturned); err != nil {
		return nil, fmt.Errorf("sum prior returns for line %d: %w", input.PurchaseLineID, err)
	}

	returnable := acquiredUnits.Sub(alreadyReturned)
	if input.Quantity.GreaterThan(returnable) {
		return nil, invalidf("quantity",
			"return of %s exceeds returnable %s on purchase line %d (acquired %s, already returned %s)",
			input.Quantity, returnable, input.PurchaseLineID, acquiredUnits, alreadyReturned)
	}

	ret := &PurchaseReturn{
		PurchaseLineID: input.PurchaseLineID,
		Quantity:       input.Quantity,
		ReturnDate:     input.ReturnDate,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO purchase_returns (purchase_line_id, quantity, return_date)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, input.PurchaseLineID, input.Quantity, input.ReturnDate).Scan(&ret.ID, &ret.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert purchase return: %w", err)
	}

	if _, err := s.costing.RecalculateAverageCostTx(ctx, tx, itemID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit purchase return: %w", err)
	}
	return ret, nil
}

func (s *ledgerService) DeletePurchaseReturn(ctx context.Context, returnID int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var itemID int
	if err := tx.QueryRow(ctx, `
		SELECT pl.item_id
		FROM purchase_returns pr
		JOIN purchase_lines pl ON pl.id = pr.purchase_line_id
		WHERE pr.id = $1
	`, returnID).Scan(&itemID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return invalidf("purchaseReturnID", "purchase return %d not found", returnID)
		}
		return fmt.Errorf("fetch purchase return %d: %w", returnID, err)
	}

	if err := lockItemByID(ctx, tx, itemID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "DELETE FROM purchase_returns WHERE id = $1", returnID); err != nil {
		return fmt.Errorf("delete purchase return %d: %w", returnID, err)
	}
	if _, err := s.costing.RecalculateAverageCostTx(ctx, tx, itemID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit purchase return delete: %w", err)
	}
	return nil
}

// ── Sales ─────────────────────────────────────────────────────────────────────

func (s *ledgerService) RecordSaleInvoice(ctx context.Context, input SaleInvoiceInput) (*SaleInvoice, []StockShortageDetail, error) {
	if input.CustomerCode == "" {
		return nil, nil, invalidf("customerCode", "customer code is required")
	}
	if err := parseDate("invoiceDate", input.InvoiceDate); err != nil {
		return nil, nil, err
	}
	if len(input.Lines) == 0 {
		return nil, nil, invalidf("lines", "invoice must have at least one line")
	}
	if input.AmountPaid.IsNegative() {
		return nil, nil, invalidf("amountPaid", "cannot be negative, got %s", input.AmountPaid)
	}
	for i, l := range input.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		if l.ItemCode == "" {
			return nil, nil, invalidf(field+".itemCode", "item code is required")
		}
		if err := validateQuantity(field+".quantity", l.Quantity); err != nil {
			return nil, nil, err
		}
		if l.BonusQuantity.IsNegative() {
			return nil, nil, invalidf(field+".bonusQuantity", "cannot be negative, got %s", l.BonusQuantity)
		}
		if l.TradePrice.IsNegative() {
			return nil, nil, invalidf(field+".tradePrice", "cannot be negative, got %s", l.TradePrice)
		}
		if err := validatePercent(field+".discountPercent", l.DiscountPercent); err != nil {
			return nil, nil, err
		}
		if err := validatePercent(field+".taxPercent", l.TaxPercent); err != nil {
			return nil, nil, err
		}
	}

	var invoice *SaleInvoice
	var warnings []StockShortageDetail

	err := withSerializableRetry(ctx, s.pool, func(tx pgx.Tx) error {
		invoice = nil
		warnings = nil

		var customerID int
		var previousBalance decimal.Decimal
		err := tx.QueryRow(ctx,
			"SELECT id, previous_balance FROM customers WHERE code = $1 AND is_active = true",
			input.CustomerCode,
		).Scan(&customerID, &previousBalance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return invalidf("customerCode", "customer %s not found", input.CustomerCode)
			}
			return fmt.Errorf("resolve customer %s: %w", input.CustomerCode, err)
		}

		// Lock items in a stable order so two concurrent invoices over the
		// same set of items cannot deadlock.
		codes := make([]string, 0, len(input.Lines))
		seen := make(map[string]bool, len(input.Lines))
		for _, l := range input.Lines {
			if !seen[l.ItemCode] {
				seen[l.ItemCode] = true
				codes = append(codes, l.ItemCode)
			}
		}
		sort.Strings(codes)

		items := make(map[string]*Item, len(codes))
		for _, code := range codes {
			item, err := lockItem(ctx, tx, code)
			if err != nil {
				return err
			}
			items[code] = item
		}

		// Gate every item through the availability check against an
		// in-transaction recompute, accumulating requirements across lines.
		required := make(map[string]decimal.Decimal, len(codes))
		for _, l := range input.Lines {
			item := items[l.ItemCode]
			units := NormalizeUnits(l.Quantity, item.PackSize, l.PackMode).
				Add(NormalizeUnits(l.BonusQuantity, item.PackSize, l.PackMode))
			required[l.ItemCode] = required[l.ItemCode].Add(units)
		}

		var blocked []StockShortageDetail
		for _, code := range codes {
			item := items[code]
			pos, err := stockPositionTx(ctx, tx, item.ID)
			if err != nil {
				return err
			}
			res := CheckAvailability(pos.AvailableUnits(), required[code], input.AllowNegative)
			if res.Shortage.IsPositive() {
				detail := StockShortageDetail{
					ItemCode:  item.Code,
					ItemName:  item.Name,
					Required:  required[code],
					Available: res.Available,
					Shortage:  res.Shortage,
				}
				if res.OK {
					warnings = append(warnings, detail)
				} else {
					blocked = append(blocked, detail)
				}
			}
		}
		if len(blocked) > 0 {
			return &InsufficientStockError{Details: blocked}
		}

		// Billing: bonus units are free; discount then tax on the paid units.
		one := decimal.NewFromInt(1)
		total := decimal.Zero
		lines := make([]SaleLine, 0, len(input.Lines))
		for _, l := range input.Lines {
			item := items[l.ItemCode]
			quantity := NormalizeUnits(l.Quantity, item.PackSize, l.PackMode)
			bonus := NormalizeUnits(l.BonusQuantity, item.PackSize, l.PackMode)
			lineTotal := quantity.Mul(l.TradePrice).
				Mul(one.Sub(l.DiscountPercent.Div(hundred))).
				Mul(one.Add(l.TaxPercent.Div(hundred))).
				Round(2)
			total = total.Add(lineTotal)
			lines = append(lines, SaleLine{
				ItemID:          item.ID,
				ItemCode:        item.Code,
				Quantity:        quantity,
				BonusQuantity:   bonus,
				TradePrice:      l.TradePrice,
				DiscountPercent: l.DiscountPercent,
				TaxPercent:      l.TaxPercent,
				LineTotal:       lineTotal,
				UnitCostAtSale:  item.CurrentAverageCost,
			})
		}

		inv := &SaleInvoice{
			CustomerID:      customerID,
			TotalAmount:     total,
			AmountPaid:      input.AmountPaid,
			PreviousBalance: previousBalance,
			InvoiceDate:     input.InvoiceDate,
			Lines:           lines,
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO sale_invoices
			            (customer_id, total_amount, amount_paid, previous_balance, invoice_date)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at
		`, customerID, total, input.AmountPaid, previousBalance, input.InvoiceDate).Scan(&inv.ID, &inv.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert sale invoice: %w", err)
		}

		inv.InvoiceNumber = fmt.Sprintf("SI-%06d", inv.ID)
		if _, err := tx.Exec(ctx,
			"UPDATE sale_invoices SET invoice_number = $1 WHERE id = $2",
			inv.InvoiceNumber, inv.ID,
		); err != nil {
			return fmt.Errorf("assign invoice number: %w", err)
		}

		for i := range inv.Lines {
			l := &inv.Lines[i]
			l.InvoiceID = inv.ID
			err := tx.QueryRow(ctx, `
				INSERT INTO sale_lines
				            (invoice_id, item_id, quantity, bonus_quantity, trade_price,
				             discount_percent, tax_percent, line_total, unit_cost_at_sale)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				RETURNING id
			`, inv.ID, l.ItemID, l.Quantity, l.BonusQuantity, l.TradePrice,
				l.DiscountPercent, l.TaxPercent, l.LineTotal, l.UnitCostAtSale,
			).Scan(&l.ID)
			if err != nil {
				return fmt.Errorf("insert sale line for item %s: %w", l.ItemCode, err)
			}
		}

		invoice = inv
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return invoice, warnings, nil
}

func (s *ledgerService) RecordSaleReturn(ctx context.Context, input SaleReturnInput) (*SaleReturn, error) {
	if err := validateQuantity("quantity", input.Quantity); err != nil {
		return nil, err
	}
	if err := parseDate("returnDate", input.ReturnDate); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var itemID int
	var soldUnits decimal.Decimal
	if err := tx.QueryRow(ctx,
		"SELECT item_id, quantity + bonus_quantity FROM sale_lines WHERE id = $1",
		input.SaleLineID,
	).Scan(&itemID, &soldUnits); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, invalidf("saleLineID", "sale line %d not found", input.SaleLineID)
		}
		return nil, fmt.Errorf("fetch sale line %d: %w", input.SaleLineID, err)
	}

	if err := lockItemByID(ctx, tx, itemID); err != nil {
		return nil, err
	}

	var alreadyReturned decimal.Decimal
	if err := tx.QueryRow(ctx,
		"SELECT COALESCE(SUM(quantity), 0) FROM sale_returns WHERE sale_line_id = $1",
		input.SaleLineID,
	).Scan(&alreadyReturned); err != nil {
		return nil, fmt.Errorf("sum prior returns for sale line %d: %w", input.SaleLineID, err)
	}

	returnable := soldUnits.Sub(alreadyReturned)
	if input.Quantity.GreaterThan(returnable) {
		return nil, invalidf("quantity",
			"return of %s exceeds returnable %s on sale line %d (sold %s, already returned %s)",
			input.Quantity, returnable, input.SaleLineID, soldUnits, alreadyReturned)
	}

	ret := &SaleReturn{
		SaleLineID: input.SaleLineID,
		Quantity:   input.Quantity,
		ReturnDate: input.ReturnDate,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO sale_returns (sale_line_id, quantity, return_date)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, input.SaleLineID, input.Quantity, input.ReturnDate).Scan(&ret.ID, &ret.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert sale return: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit sale return: %w", err)
	}
	return ret, nil
}

// ── Damage ────────────────────────────────────────────────────────────────────

func (s *ledgerService) RecordDamage(ctx context.Context, input DamageInput) (*DamageTransaction, []StockShortageDetail, error) {
	if input.ItemCode == "" {
		return nil, nil, invalidf("itemCode", "item code is required")
	}
	if input.SupplierCode == "" {
		return nil, nil, invalidf("supplierCode", "supplier code is required")
	}
	if input.Type != DamageOut && input.Type != DamageIn {
		return nil, nil, invalidf("type", "must be %q or %q, got %q", DamageOut, DamageIn, input.Type)
	}
	if err := validateQuantity("quantity", input.Quantity); err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(input.Notes) == "" {
		return nil, nil, invalidf("notes", "notes are required for damage transactions")
	}
	if err := parseDate("damageDate", input.DamageDate); err != nil {
		return nil, nil, err
	}

	var damage *DamageTransaction
	var warnings []StockShortageDetail

	err := withSerializableRetry(ctx, s.pool, func(tx pgx.Tx) error {
		damage = nil
		warnings = nil

		item, err := lockItem(ctx, tx, input.ItemCode)
		if err != nil {
			return err
		}
		supplierID, err := resolveSupplier(ctx, tx, input.SupplierCode)
		if err != nil {
			return err
		}

		units := NormalizeUnits(input.Quantity, item.PackSize, input.PackMode)

		// Damage-out is valued at the last purchase rate; remaining stock is
		// never re-priced. Falls back to the current average when the item
		// has no purchase history.
		unitRate := item.CurrentAverageCost
		err = tx.QueryRow(ctx, `
			SELECT purchase_rate FROM purchase_lines
			WHERE item_id = $1
			ORDER BY purchase_date DESC, id DESC
			LIMIT 1
		`, item.ID).Scan(&unitRate)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("fetch last purchase rate for item %s: %w", item.Code, err)
		}

		if input.Type == DamageOut {
			pos, err := stockPositionTx(ctx, tx, item.ID)
			if err != nil {
				return err
			}
			res := CheckAvailability(pos.AvailableUnits(), units, input.AllowNegative)
			if res.Shortage.IsPositive() {
				detail := StockShortageDetail{
					ItemCode:  item.Code,
					ItemName:  item.Name,
					Required:  units,
					Available: res.Available,
					Shortage:  res.Shortage,
				}
				if !res.OK {
					return &InsufficientStockError{Details: []StockShortageDetail{detail}}
				}
				warnings = append(warnings, detail)
			}
		}

		d := &DamageTransaction{
			ItemID:     item.ID,
			ItemCode:   item.Code,
			SupplierID: supplierID,
			Type:       input.Type,
			Quantity:   units,
			UnitRate:   unitRate,
			Notes:      input.Notes,
			DamageDate: input.DamageDate,
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO damage_transactions
			            (item_id, supplier_id, damage_type, quantity, unit_rate, notes, damage_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at
		`, item.ID, supplierID, string(input.Type), units, unitRate, input.Notes, input.DamageDate,
		).Scan(&d.ID, &d.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert damage transaction: %w", err)
		}

		damage = d
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return damage, warnings, nil
}

// ── Payments & reads ──────────────────────────────────────────────────────────

func (s *ledgerService) RecordPayment(ctx context.Context, invoiceID int, amount decimal.Decimal) (*SaleInvoice, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, invalidf("amount", "must be positive, got %s", amount)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int
	if err := tx.QueryRow(ctx,
		"SELECT id FROM sale_invoices WHERE id = $1 FOR UPDATE", invoiceID,
	).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, invalidf("invoiceID", "invoice %d not found", invoiceID)
		}
		return nil, fmt.Errorf("lock invoice %d: %w", invoiceID, err)
	}

	if _, err := tx.Exec(ctx,
		"UPDATE sale_invoices SET amount_paid = amount_paid + $1 WHERE id = $2",
		amount, invoiceID,
	); err != nil {
		return nil, fmt.Errorf("record payment on invoice %d: %w", invoiceID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit payment: %w", err)
	}
	return s.GetInvoice(ctx, invoiceID)
}

func (s *ledgerService) GetInvoice(ctx context.Context, invoiceID int) (*SaleInvoice, error) {
	inv := &SaleInvoice{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, invoice_number, customer_id, total_amount, amount_paid,
		       previous_balance, invoice_date::text, created_at
		FROM sale_invoices
		WHERE id = $1
	`, invoiceID).Scan(
		&inv.ID, &inv.InvoiceNumber, &inv.CustomerID, &inv.TotalAmount,
		&inv.AmountPaid, &inv.PreviousBalance, &inv.InvoiceDate, &inv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("invoice %d not found", invoiceID)
		}
		return nil, fmt.Errorf("get invoice %d: %w", invoiceID, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT sl.id, sl.invoice_id, sl.item_id, i.code,
		       sl.quantity, sl.bonus_quantity, sl.trade_price,
		       sl.discount_percent, sl.tax_percent, sl.line_total, sl.unit_cost_at_sale
		FROM sale_lines sl
		JOIN items i ON i.id = sl.item_id
		WHERE sl.invoice_id = $1
		ORDER BY sl.id
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("fetch lines for invoice %d: %w", invoiceID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var l SaleLine
		if err := rows.Scan(
			&l.ID, &l.InvoiceID, &l.ItemID, &l.ItemCode,
			&l.Quantity, &l.BonusQuantity, &l.TradePrice,
			&l.DiscountPercent, &l.TaxPercent, &l.LineTotal, &l.UnitCostAtSale,
		); err != nil {
			return nil, fmt.Errorf("scan sale line: %w", err)
		}
		inv.Lines = append(inv.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sale line iteration: %w", err)
	}
	return inv, nil
}
