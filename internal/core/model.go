package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is a stocked product. CurrentAverageCost is a materialized value:
// it is written only by the costing recompute, never patched incrementally.
type Item struct {
	ID                 int             `json:"id"`
	Code               string          `json:"code"`
	Name               string          `json:"name"`
	BaseUnit           string          `json:"base_unit"`
	PackSize           decimal.Decimal `json:"pack_size"`
	CurrentAverageCost decimal.Decimal `json:"current_average_cost"`
	IsActive           bool            `json:"is_active"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

type Supplier struct {
	ID        int       `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type Customer struct {
	ID              int             `json:"id"`
	Code            string          `json:"code"`
	Name            string          `json:"name"`
	Phone           string          `json:"phone,omitempty"`
	Address         string          `json:"address,omitempty"`
	PreviousBalance decimal.Decimal `json:"previous_balance"`
	IsActive        bool            `json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
}

// PurchaseLine is an acquisition event. Acquired units = Quantity + BonusQuantity;
// NetAmount is the paid value for the whole line after discount.
type PurchaseLine struct {
	ID              int             `json:"id"`
	ItemID          int             `json:"item_id"`
	ItemCode        string          `json:"item_code"`
	SupplierID      int             `json:"supplier_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	BonusQuantity   decimal.Decimal `json:"bonus_quantity"`
	PurchaseRate    decimal.Decimal `json:"purchase_rate"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	NetAmount       decimal.Decimal `json:"net_amount"`
	PurchaseDate    string          `json:"purchase_date"`
	CreatedAt       time.Time       `json:"created_at"`
}

// AcquiredUnits returns paid plus bonus units for this line.
func (l PurchaseLine) AcquiredUnits() decimal.Decimal {
	return l.Quantity.Add(l.BonusQuantity)
}

type PurchaseReturn struct {
	ID             int             `json:"id"`
	PurchaseLineID int             `json:"purchase_line_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	ReturnDate     string          `json:"return_date"`
	CreatedAt      time.Time       `json:"created_at"`
}

// SaleLine is a disposal event. UnitCostAtSale is the item's average cost
// captured inside the recording transaction; COGS is computed from it so
// later purchases do not shift historical profit.
type SaleLine struct {
	ID              int             `json:"id"`
	InvoiceID       int             `json:"invoice_id"`
	ItemID          int             `json:"item_id"`
	ItemCode        string          `json:"item_code"`
	Quantity        decimal.Decimal `json:"quantity"`
	BonusQuantity   decimal.Decimal `json:"bonus_quantity"`
	TradePrice      decimal.Decimal `json:"trade_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	TaxPercent      decimal.Decimal `json:"tax_percent"`
	LineTotal       decimal.Decimal `json:"line_total"`
	UnitCostAtSale  decimal.Decimal `json:"unit_cost_at_sale"`
}

// DisposedUnits returns sold plus bonus units for this line.
func (l SaleLine) DisposedUnits() decimal.Decimal {
	return l.Quantity.Add(l.BonusQuantity)
}

type SaleReturn struct {
	ID         int             `json:"id"`
	SaleLineID int             `json:"sale_line_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	ReturnDate string          `json:"return_date"`
	CreatedAt  time.Time       `json:"created_at"`
}

type DamageType string

const (
	DamageOut DamageType = "out" // disposal at the item's last purchase rate
	DamageIn  DamageType = "in"  // acquisition credit (supplier replacement)
)

type DamageTransaction struct {
	ID         int             `json:"id"`
	ItemID     int             `json:"item_id"`
	ItemCode   string          `json:"item_code"`
	SupplierID int             `json:"supplier_id"`
	Type       DamageType      `json:"type"`
	Quantity   decimal.Decimal `json:"quantity"`
	UnitRate   decimal.Decimal `json:"unit_rate"`
	Notes      string          `json:"notes"`
	DamageDate string          `json:"damage_date"`
	CreatedAt  time.Time       `json:"created_at"`
}

// SaleInvoice aggregates sale lines for one customer.
type SaleInvoice struct {
	ID              int             `json:"id"`
	InvoiceNumber   string          `json:"invoice_number"`
	CustomerID      int             `json:"customer_id"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	PreviousBalance decimal.Decimal `json:"previous_balance"`
	InvoiceDate     string          `json:"invoice_date"`
	CreatedAt       time.Time       `json:"created_at"`
	Lines           []SaleLine      `json:"lines,omitempty"`
}

// NetBalance = total - paid + previous balance carried forward.
func (inv SaleInvoice) NetBalance() decimal.Decimal {
	return inv.TotalAmount.Sub(inv.AmountPaid).Add(inv.PreviousBalance)
}

// StockPosition is the derived stock state for one item, recomputed from the
// full event history. OnHandUnits may be negative when negative stock was
// explicitly allowed on a sale; AvailableUnits clamps it for availability checks.
type StockPosition struct {
	ItemID        int             `json:"item_id"`
	ItemCode      string          `json:"item_code"`
	ItemName      string          `json:"item_name"`
	AcquiredUnits decimal.Decimal `json:"acquired_units"`
	AcquiredValue decimal.Decimal `json:"acquired_value"`
	DisposedUnits decimal.Decimal `json:"disposed_units"`
	OnHandUnits   decimal.Decimal `json:"on_hand_units"`
	AverageCost   decimal.Decimal `json:"average_cost"`
}

// AvailableUnits is OnHandUnits floored at zero.
func (p StockPosition) AvailableUnits() decimal.Decimal {
	if p.OnHandUnits.IsNegative() {
		return decimal.Zero
	}
	return p.OnHandUnits
}
