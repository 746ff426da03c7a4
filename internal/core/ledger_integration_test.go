package core_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"distro-backend/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database to avoid wiping the live app database.
	// Set TEST_DATABASE_URL in your .env or environment to run integration tests.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	// Clean and seed test DB
	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE sale_returns, sale_lines, sale_invoices, purchase_returns,
			purchase_lines, damage_transactions, items, suppliers, customers CASCADE;

		INSERT INTO suppliers (code, name, phone, address) VALUES
		('S001', 'Medico Distributors', '+92-300-0000001', 'Lahore'),
		('S002', 'Prime Traders',       '+92-300-0000002', 'Karachi');

		INSERT INTO customers (code, name, phone, address, previous_balance) VALUES
		('C001', 'City Pharmacy',   '+92-300-1000001', 'Mall Road',  0),
		('C002', 'Valley Medicos',  '+92-300-1000002', 'Main Bazar', 1500);

		INSERT INTO items (code, name, base_unit, pack_size) VALUES
		('IT001', 'Amoxil 250mg', 'tablet', 10),
		('IT002', 'Panadol Syrup', 'bottle', 12);
	`)
	if err != nil {
		t.Fatalf("Failed to seed test database: %v", err)
	}

	return pool
}

func newServices(pool *pgxpool.Pool) (core.CatalogService, core.LedgerService, core.StockService, core.CostingService, core.ProfitService) {
	costing := core.NewCostingService(pool)
	return core.NewCatalogService(pool),
		core.NewLedgerService(pool, costing),
		core.NewStockService(pool, nil, 0),
		costing,
		core.NewProfitService(pool)
}

func mustRecordPurchase(t *testing.T, ctx context.Context, ledger core.LedgerService, input core.PurchaseLineInput) *core.PurchaseLine {
	t.Helper()
	line, err := ledger.RecordPurchaseLine(ctx, input)
	if err != nil {
		t.Fatalf("RecordPurchaseLine failed: %v", err)
	}
	return line
}

// ── Costing ───────────────────────────────────────────────────────────────────

func TestCosting_WeightedAverageWithBonusAndDiscount(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	catalog, ledger, _, _, _ := newServices(pool)
	ctx := context.Background()

	// 100 @ 10, no discount: net 1000, avg 10.00
	mustRecordPurchase(t, ctx, ledger, core.PurchaseLineInput{
		ItemCode: "IT001", SupplierCode: "S001",
		Quantity:     decimal.NewFromInt(100),
		PurchaseRate: decimal.NewFromInt(10),
		PurchaseDate: "2026-03-01",
	})

	item, err := catalog.GetItemByCode(ctx, "IT001")
	if err != nil {
		t.Fatalf("GetItemByCode failed: %v", err)
	}
	if !item.CurrentAverageCost.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected avg cost 10 after first purchase, got %s", item.CurrentAverageCost)
	}

	// 50 paid + 10 bonus @ 12 with 10% discount: net 540 over 60 units.
	// Running totals: 160 units, 1540 value, avg 9.63.
	line2 := mustRecordPurchase(t, ctx, ledger, core.PurchaseLineInput{
		ItemCode: "IT001", SupplierCode: "S001",
		Quantity:        decimal.NewFromInt(50),
		BonusQuantity:   decimal.NewFromInt(10),
		PurchaseRate:    decimal.NewFromInt(12),
		DiscountPercent: decimal.NewFromInt(10),
		PurchaseDate:    "2026-03-05",
	})
	if !line2.NetAmount.Equal(decimal.NewFromInt(540)) {
		t.Errorf("expected net amount 540, got %s", line2.NetAmount)
	}

	item, _ = catalog.GetItemByCode(ctx, "IT001")
	if !item.CurrentAverageCost.Equal(decimal.NewFromFloat(9.63)) {
		t.Errorf("expected avg cost 9.63 after bonus purchase, got %s", item.CurrentAverageCost)
	}

	// Return 20 units off the second line: priced at its per-unit rate
	// 540/60 = 9, removing 180 in value. 140 units, 1360 value, avg 9.71.
	if _, err := ledger.RecordPurchaseReturn(ctx, core.PurchaseReturnInput{
		PurchaseLineID: line2.ID,
		Quantity:       decimal.NewFromInt(20),
		ReturnDate:     "2026-03-07",
	}); err != nil {
		t.Fatalf("RecordPurchaseReturn failed: %v", err)
	}

	item, _ = catalog.GetItemByCode(ctx, "IT001")
	if !item.CurrentAverageCost.Equal(decimal.NewFromFloat(9.71)) {
		t.Errorf("expected avg cost 9.71 after return, got %s", item.CurrentAverageCost)
	}
}

func TestCosting_RecomputeIsIdempotent(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	catalog, ledger, _, costing, _ := newServices(pool)
	ctx := context.Background()

	mustRecordPurchase(t, ctx, ledger, core.PurchaseLineInput{
		ItemCode: "IT001", SupplierCode: "S001",
		Quantity:     decimal.NewFromInt(30),
		PurchaseRate: decimal.NewFromFloat(7.77),
		PurchaseDate: "2026-03-01",
	})
	item, _ := catalog.GetItemByCode(ctx, "IT001")

	first, err := costing.RecalculateAverageCost(ctx, item.ID)
	if err != nil {
		t.Fatalf("first recompute failed: %v", err)
	}
	second, err := costing.RecalculateAverageCost(ctx, item.ID)
	if err != nil {
		t.Fatalf("second recompute failed: %v", err)
	}
	if !first.Equal(second) {
		t.Errorf("recompute drifted: %s then %s", first, second)
	}
}

func TestCosting_FullyReturnedStockZeroesCost(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	catalog, ledger, _, _, _ := newServices(pool)
	ctx := context.Background()

	line := mustRecordPurchase(t, ctx, ledger, core.PurchaseLineInput{
		ItemCode: "IT001", SupplierCode: "S001",
		Quantity:     decimal.NewFromInt(40),
		PurchaseRate: decimal.NewFromInt(5),
		PurchaseDate: "2026-03-01",
	})

	if _, err := ledger.RecordPurchaseReturn(ctx, core.PurchaseReturnInput{
		PurchaseLineID: line.ID,
		Quantity:       decimal.NewFromInt(40),
		ReturnDate:     "2026-03-02",
	}); err != nil {
		t.Fatalf("full return failed: %v", err)
	}

	item, _ := catalog.GetItemByCode(ctx, "IT001")
	if !item.CurrentAverageCost.IsZero() {
		t.Errorf("expected zero avg cost with no net stock basis, got %s", item.CurrentAverageCost)
	}
}

func TestPurchaseReturn_BoundEnforced(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	_, ledger, _, _, _ := newServices(pool)
	ctx := context.Background()

	line := mustRecordPurchase(t, ctx, ledger, core.PurchaseLineInput{
		ItemCode: "IT001", SupplierCode: "S001",
		Quantity:      decimal.NewFromInt(50),
		BonusQuantity: decimal.NewFromInt(10),
		PurchaseRate:  decimal.NewFromInt(8),
		PurchaseDate:  "2026-03-01",
	})

	// More than acquired (60) must be rejected outright.
	_, err := ledger.RecordPurchaseReturn(ctx, core.PurchaseReturnInput{
		PurchaseLineID: line.ID,
		Quantity:       decimal.NewFromInt(70),
		ReturnDate:     "2026-03-02",
	})
	var validationErr *core.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError for over-return, got %v", err)
	}

	// The bound tracks cumulative returns, not just single entries.
	if _, err := ledger.RecordPurchaseReturn(ctx, core.PurchaseReturnInput{
		PurchaseLineID: line.ID,
		Quantity:       decimal.NewFromInt(60),
		ReturnDate:     "2026-03-02",
	}); err != nil {
		t.Fatalf("exact full return failed: %v", err)
	}
	_, err = ledger.RecordPurchaseReturn(ctx, core.PurchaseReturnInput{
		PurchaseLineID: line.ID,
		Quantity:       decimal.NewFromInt(1),
		ReturnDate:     "2026-03-03",
	})
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError after line fully returned, got %v", err)
	}
}

func TestDeletePurchaseLine_RefusedWhileReturnsExist(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	_, ledger, _, _, _ := newServices(pool)
	ctx := context.Background()

	line := mustRecordPurchase(t, ctx, ledger, core.PurchaseLineInput{
		ItemCode: "IT001", SupplierCode: "S001",
		Quantity:     decimal.NewFromInt(20),
		PurchaseRate: decimal.NewFromInt(4),
		PurchaseDate: "2026-03-01",
	})
	ret, err := ledger.RecordPurchaseReturn(ctx, core.PurchaseReturnInput{
		PurchaseLineID: line.ID,
		Quantity:       decimal.NewFromInt(5),
		ReturnDate:     "2026-03-02",
	})
	if err != nil {
		t.Fatalf("RecordPurchaseReturn failed: %v", err)
	}

	var validationErr *core.ValidationError
	if err := ledger.DeletePurchaseLine(ctx, line.ID); !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError deleting line with returns, got %v", err)
	}

	// After reversing the return the line can go.
	if err := ledger.DeletePurchaseReturn(ctx, ret.ID); err != nil {
		t.Fatalf("DeletePurchaseReturn failed: %v", err)
	}
	if err := ledger.DeletePurchaseLine(ctx, line.ID); err != nil {
		t.Fatalf("DeletePurchaseLine failed: %v", err)
	}
}

// ── Sales & availability ──────────────────────────────────────────────────────

func TestSale_InsufficientStockBlocksWithDetails(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	_, ledger, stock, _, _ := newServices(pool)
	ctx := context.Background()

	mustRecordPurchase(t, ctx, ledger, core.PurchaseLineInput{
		ItemCode: "IT001", SupplierCode: "S001",
		Quantity:     decimal.NewFromInt(10),
		PurchaseRate: decimal.NewFromInt(10),
		PurchaseDate: "2026-03-01",
	})

	_, _, err := ledger.RecordSaleInvoice(ctx, core.SaleInvoiceInput{
		CustomerCode: "C001",
		InvoiceDate:  "2026-03-02",
		Lines: []core.SaleLineInput{{
			ItemCode:   "IT001",
			Quantity:   decimal.NewFromInt(15),
			TradePrice: decimal.NewFromInt(14),
		}},
	})
	var stockErr *core.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if len(stockErr.Details) != 1 {
		t.Fatalf("expected one shortage detail, got %d", len(stockErr.Details))
	}
	detail := stockErr.Details[0]
	if detail.ItemCode != "IT001" {
		t.Errorf("expected shortage on IT001, got %s", detail.ItemCode)
	}
	if !detail.Shortage.Equal(decimal.NewFromInt(5)) {
		t.Errorf("expected shortage 5, got %s", detail.Shortage)
	}

	// Nothing may have been written.
	pos, err := stock.GetStockPositionByCode(ctx, "IT001")
	if err != nil {
		t.Fatalf("GetStockPositionByCode failed: %v", err)
	}
	if !pos.OnHandUnits.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected on-hand unchanged at 10 after blocked sale, got %s", pos.OnHandUnits)
	}
}

func TestSale_NegativeStockOverride(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	_, ledger, stock, _, _ := newServices(pool)
	ctx := context.Background()

	mustRecordPurchase(t, ctx, ledger, core.PurchaseLineInput{
		ItemCode: "IT001", SupplierCode: "S001",
		Quantity:     decimal.NewFromInt(10),
		PurchaseRate: decimal.NewFromInt(10),
		PurchaseDate: "2026-03-01",
	})

	invoice, warnings, err := ledger.RecordSaleInvoice(ctx, core.SaleInvoiceInput{
		CustomerCode:  "C001",
		InvoiceDate:   "2026-03-02",
		AllowNegative: true,
		Lines: []core.SaleLineInput{{
			ItemCode:   "IT001",
			Quantity:   decimal.NewFromInt(15),
			TradePrice: decimal.NewFromInt(14),
		}},
	})
	if err != nil {
		t.Fatalf("override sale failed: %v", err)
	}
	if invoice.InvoiceNumber == "" {
		t.Error("expected invoice number assigned")
	}
	if len(warnings) != 1 || !warnings[0].Shortage.Equal(decimal.NewFromInt(5)) {
		t.Errorf("expected one warning with shortage 5, got %+v", warnings)
	}

	pos, _ := stock.GetStockPositionByCode(ctx, "IT001")
	if !pos.OnHandUnits.Equal(decimal.NewFromInt(-5)) {
		t.Errorf("expected on-hand -5 after override, got %s", pos.OnHandUnits)
	}
	if !pos.AvailableUnits().IsZero() {
		t.Errorf("expected available clamped to 0, got %s", pos.AvailableUnits())
	}
}

func TestSale_PackModeNormalization(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	_, ledger, stock, _, _ := newServices(pool)
	ctx := context.Background()

	// IT002 pack size is 12. Purchase 5 packs = 60 bottles.
	mustRecordPurchase(t, ctx, ledger, core.PurchaseLineInput{
		ItemCode: "IT002", SupplierCode: "S002",
		Quantity:     decimal.NewFromInt(5),
		PackMode:     true,
		PurchaseRate: decimal.NewFromInt(100),
		PurchaseDate: "2026-03-01",
	})

	pos, _ := stock.GetStockPositionByCode(ctx, "IT002")
	if !pos.OnHandUnits.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected 60 bottles after 5-pack purchase, got %s", pos.OnHandUnits)
	}

	// Sell 2 packs = 24 bottles. Trade price is per base unit, so billing
	// uses the normalized quantity.
	invoice, _, err := ledger.RecordSaleInvoice(ctx, core.SaleInvoiceInput{
		CustomerCode: "C001",
		InvoiceDate:  "2026-03-02",
		Lines: []core.SaleLineInput{{
			ItemCode:   "IT002",
			Quantity:   decimal.NewFromInt(2),
			PackMode:   true,
			TradePrice: decimal.NewFromInt(10),
		}},
	})
	if err != nil {
		t.Fatalf("pack-mode sale failed: %v", err)
	}
	if !invoice.TotalAmount.Equal(decimal.NewFromInt(240)) {
		t.Errorf("expected total 240 (24 bottles @ 10), got %s", invoice.TotalAmount)
	}

	pos, _ = stock.GetStockPositionByCode(ctx, "IT002")
	if !pos.OnHandUnits.Equal(decimal.NewFromInt(36)) {
		t.Errorf("expected 36 bottles remaining, got %s", pos.OnHandUnits)
	}
}

func TestSaleReturn_BoundEnforced(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	_, ledger, stock, _, _ := newServices(pool)
	ctx := context.Background()

	mustRecordPurchase(t, ctx, ledger, core.PurchaseLineInput{
		ItemCode: "IT001", SupplierCode: "S001",
		Quantity:     decimal.NewFromInt(50),
		PurchaseRate: decimal.NewFromInt(10),
		PurchaseDate: "2026-03-01",
	})
	invoice, _, err := ledger.RecordSaleInvoice(ctx, core.SaleInvoiceInput{
		CustomerCode: "C001",
		InvoiceDate:  "2026-03-02",
		Lines: []core.SaleLineInput{{
			ItemCode:   "IT001",
			Quantity:   decimal.NewFromInt(20),
			TradePrice: decimal.NewFromInt(14),
		}},
	})
	if err != nil {
		t.Fatalf("RecordSaleInvoice failed: %v", err)
	}
	lineID := invoice.Lines[0].ID

	var validationErr *core.ValidationError
	_, err = ledger.RecordSaleReturn(ctx, core.SaleReturnInput{
		SaleLineID: lineID,
		Quantity:   decimal.NewFromInt(25),
		ReturnDate: "2026-03-03",
	})
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError for over-return, got %v", err)
	}

	if _, err := ledger.RecordSaleReturn(ctx, core.SaleReturnInput{
		SaleLineID: lineID,
		Quantity:   decimal.NewFromInt(5),
		ReturnDate: "2026-03-03",
	}); err != nil {
		t.Fatalf("valid sale return failed: %v", err)
	}

	pos, _ := stock.GetStockPositionByCode(ctx, "IT001")
	if !pos.OnHandUnits.Equal(decimal.NewFromInt(35)) {
		t.Errorf("expected on-hand 35 (50 - 20 + 5), got %s", pos.OnHandUnits)
	}
}

// ── Profit attribution ────────────────────────────────────────────────────────

func TestProfit_SnapshotCostSurvivesLaterPurchases(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	_, ledger, _, _, profit := newServices(pool)
	ctx := context.Background()

	mustRecordPurchase(t, ctx, ledger, core.PurchaseLineInput{
		ItemCode: "IT001", SupplierCode: "S001",
		Quantity:     decimal.NewFromInt(100),
		PurchaseRate: decimal.NewFromInt(10),
		PurchaseDate: "2026-03-01",
	})

	// 10 units @ 15, 60 paid of 150: profit 50, ratio 0.4.
	invoice, _, err := ledger.RecordSaleInvoice(ctx, core.SaleInvoiceInput{
		CustomerCode: "C001",
		InvoiceDate:  "2026-03-02",
		AmountPaid:   decimal.NewFromInt(60),
		Lines: []core.SaleLineInput{{
			ItemCode:   "IT001",
			Quantity:   decimal.NewFromInt(10),
			TradePrice: decimal.NewFromInt(15),
		}},
	})
	if err != nil {
		t.Fatalf("RecordSaleInvoice failed: %v", err)
	}

	report, err := profit.ComputeInvoiceProfit(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("ComputeInvoiceProfit failed: %v", err)
	}
	if !report.CostOfGoods.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected COGS 100, got %s", report.CostOfGoods)
	}
	if !report.Profit.Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected profit 50, got %s", report.Profit)
	}
	if !report.RealizedProfit.Equal(decimal.NewFromInt(20)) {
		t.Errorf("expected realized 20, got %s", report.RealizedProfit)
	}
	if !report.PendingProfit.Equal(decimal.NewFromInt(30)) {
		t.Errorf("expected pending 30, got %s", report.PendingProfit)
	}

	// A later, pricier purchase moves the average cost but must not move
	// the historical invoice's profit.
	mustRecordPurchase(t, ctx, ledger, core.PurchaseLineInput{
		ItemCode: "IT001", SupplierCode: "S001",
		Quantity:     decimal.NewFromInt(100),
		PurchaseRate: decimal.NewFromInt(20),
		PurchaseDate: "2026-03-10",
	})

	report, _ = profit.ComputeInvoiceProfit(ctx, invoice.ID)
	if !report.CostOfGoods.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected snapshot COGS still 100 after repricing, got %s", report.CostOfGoods)
	}

	// Collecting the rest realizes everything.
	if _, err := ledger.RecordPayment(ctx, invoice.ID, decimal.NewFromInt(90)); err != nil {
		t.Fatalf("RecordPayment failed: %v", err)
	}
	report, _ = profit.ComputeInvoiceProfit(ctx, invoice.ID)
	if !report.RealizedProfit.Equal(decimal.NewFromInt(50)) || !report.PendingProfit.IsZero() {
		t.Errorf("expected fully realized profit 50, got realized %s pending %s",
			report.RealizedProfit, report.PendingProfit)
	}
}

func TestProfit_CustomerAggregateSumsPerInvoiceShares(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	_, ledger, _, _, profit := newServices(pool)
	ctx := context.Background()

	mustRecordPurchase(t, ctx, ledger, core.PurchaseLineInput{
		ItemCode: "IT001", SupplierCode: "S001",
		Quantity:     decimal.NewFromInt(200),
		PurchaseRate: decimal.NewFromInt(10),
		PurchaseDate: "2026-03-01",
	})

	// Invoice 1: 10 @ 15 = 150, fully paid. Profit 50, all realized.
	if _, _, err := ledger.RecordSaleInvoice(ctx, core.SaleInvoiceInput{
		CustomerCode: "C001", InvoiceDate: "2026-03-02",
		AmountPaid: decimal.NewFromInt(150),
		Lines: []core.SaleLineInput{{
			ItemCode: "IT001", Quantity: decimal.NewFromInt(10), TradePrice: decimal.NewFromInt(15),
		}},
	}); err != nil {
		t.Fatalf("invoice 1 failed: %v", err)
	}
	// Invoice 2: 30 @ 20 = 600, unpaid. Profit 300, all pending. The fatter
	// margin here makes per-invoice attribution distinguishable from
	// applying the aggregate ratio to the aggregate profit.
	if _, _, err := ledger.RecordSaleInvoice(ctx, core.SaleInvoiceInput{
		CustomerCode: "C001", InvoiceDate: "2026-03-05",
		Lines: []core.SaleLineInput{{
			ItemCode: "IT001", Quantity: decimal.NewFromInt(30), TradePrice: decimal.NewFromInt(20),
		}},
	}); err != nil {
		t.Fatalf("invoice 2 failed: %v", err)
	}

	report, err := profit.ComputeCustomerProfit(ctx, "C001", "2026-03-01", "2026-03-31")
	if err != nil {
		t.Fatalf("ComputeCustomerProfit failed: %v", err)
	}
	if report.InvoiceCount != 2 {
		t.Fatalf("expected 2 invoices, got %d", report.InvoiceCount)
	}
	// Summed: 750 billed, 150 paid, 400 cost, profit 350.
	// Realized = 50 + 0 from the per-invoice splits, not 350 x 0.2 = 70.
	if !report.CollectionRatio.Equal(decimal.NewFromFloat(0.2)) {
		t.Errorf("expected aggregate ratio 0.2, got %s", report.CollectionRatio)
	}
	if !report.Profit.Equal(decimal.NewFromInt(350)) {
		t.Errorf("expected aggregate profit 350, got %s", report.Profit)
	}
	if !report.RealizedProfit.Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected realized 50, got %s", report.RealizedProfit)
	}
	if !report.PendingProfit.Equal(decimal.NewFromInt(300)) {
		t.Errorf("expected pending 300, got %s", report.PendingProfit)
	}
}

// ── Damage ────────────────────────────────────────────────────────────────────

func TestDamage_NotesRequiredAndOutGated(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	_, ledger, stock, _, _ := newServices(pool)
	ctx := context.Background()

	var validationErr *core.ValidationError
	_, _, err := ledger.RecordDamage(ctx, core.DamageInput{
		ItemCode: "IT001", SupplierCode: "S001",
		Type:       core.DamageOut,
		Quantity:   decimal.NewFromInt(5),
		Notes:      "   ",
		DamageDate: "2026-03-02",
	})
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError for blank notes, got %v", err)
	}

	// Damage-out against empty stock blocks like any other disposal.
	var stockErr *core.InsufficientStockError
	_, _, err = ledger.RecordDamage(ctx, core.DamageInput{
		ItemCode: "IT001", SupplierCode: "S001",
		Type:       core.DamageOut,
		Quantity:   decimal.NewFromInt(5),
		Notes:      "crushed carton",
		DamageDate: "2026-03-02",
	})
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}

	mustRecordPurchase(t, ctx, ledger, core.PurchaseLineInput{
		ItemCode: "IT001", SupplierCode: "S001",
		Quantity:     decimal.NewFromInt(10),
		PurchaseRate: decimal.NewFromInt(9),
		PurchaseDate: "2026-03-01",
	})

	damage, _, err := ledger.RecordDamage(ctx, core.DamageInput{
		ItemCode: "IT001", SupplierCode: "S001",
		Type:       core.DamageOut,
		Quantity:   decimal.NewFromInt(4),
		Notes:      "crushed carton",
		DamageDate: "2026-03-02",
	})
	if err != nil {
		t.Fatalf("RecordDamage failed: %v", err)
	}
	// Valued at the last purchase rate, informational only.
	if !damage.UnitRate.Equal(decimal.NewFromInt(9)) {
		t.Errorf("expected unit rate 9 from last purchase, got %s", damage.UnitRate)
	}

	pos, _ := stock.GetStockPositionByCode(ctx, "IT001")
	if !pos.OnHandUnits.Equal(decimal.NewFromInt(6)) {
		t.Errorf("expected on-hand 6 after damage-out, got %s", pos.OnHandUnits)
	}

	// Damage-in credits the supplier replacement back into stock.
	if _, _, err := ledger.RecordDamage(ctx, core.DamageInput{
		ItemCode: "IT001", SupplierCode: "S001",
		Type:       core.DamageIn,
		Quantity:   decimal.NewFromInt(4),
		Notes:      "replacement received",
		DamageDate: "2026-03-05",
	}); err != nil {
		t.Fatalf("damage-in failed: %v", err)
	}
	pos, _ = stock.GetStockPositionByCode(ctx, "IT001")
	if !pos.OnHandUnits.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected on-hand restored to 10, got %s", pos.OnHandUnits)
	}
}

// ── Stock position derivation ─────────────────────────────────────────────────

func TestStockPosition_FullDerivation(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	_, ledger, stock, _, _ := newServices(pool)
	ctx := context.Background()

	mustRecordPurchase(t, ctx, ledger, core.PurchaseLineInput{
		ItemCode: "IT001", SupplierCode: "S001",
		Quantity:     decimal.NewFromInt(100),
		PurchaseRate: decimal.NewFromInt(10),
		PurchaseDate: "2026-03-01",
	})
	invoice, _, err := ledger.RecordSaleInvoice(ctx, core.SaleInvoiceInput{
		CustomerCode: "C001", InvoiceDate: "2026-03-02",
		Lines: []core.SaleLineInput{{
			ItemCode: "IT001", Quantity: decimal.NewFromInt(30), TradePrice: decimal.NewFromInt(14),
		}},
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}
	if _, err := ledger.RecordSaleReturn(ctx, core.SaleReturnInput{
		SaleLineID: invoice.Lines[0].ID,
		Quantity:   decimal.NewFromInt(5),
		ReturnDate: "2026-03-03",
	}); err != nil {
		t.Fatalf("sale return failed: %v", err)
	}
	if _, _, err := ledger.RecordDamage(ctx, core.DamageInput{
		ItemCode: "IT001", SupplierCode: "S001",
		Type: core.DamageOut, Quantity: decimal.NewFromInt(10),
		Notes: "expired batch", DamageDate: "2026-03-04",
	}); err != nil {
		t.Fatalf("damage out failed: %v", err)
	}
	if _, _, err := ledger.RecordDamage(ctx, core.DamageInput{
		ItemCode: "IT001", SupplierCode: "S001",
		Type: core.DamageIn, Quantity: decimal.NewFromInt(2),
		Notes: "partial replacement", DamageDate: "2026-03-05",
	}); err != nil {
		t.Fatalf("damage in failed: %v", err)
	}

	pos, err := stock.GetStockPositionByCode(ctx, "IT001")
	if err != nil {
		t.Fatalf("GetStockPositionByCode failed: %v", err)
	}
	// 100 acquired; disposed = 30 - 5 + 10 - 2 = 33.
	if !pos.OnHandUnits.Equal(decimal.NewFromInt(67)) {
		t.Errorf("expected on-hand 67, got %s", pos.OnHandUnits)
	}
	if !pos.AverageCost.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected average cost 10, got %s", pos.AverageCost)
	}

	positions, err := stock.GetStockPositions(ctx)
	if err != nil {
		t.Fatalf("GetStockPositions failed: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("expected positions for both seeded items, got %d", len(positions))
	}
}
