package web

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"distro-backend/internal/core"
)

var validate = validator.New()

// checkRequest runs struct-tag validation and writes a 400 on failure.
// Quantity/amount bounds are enforced in the core services; the tags here
// catch shape errors (missing fields, bad dates) before any database work.
func checkRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := validate.Struct(v); err != nil {
		writeError(w, r, "invalid request: "+err.Error(), "VALIDATION_ERROR", http.StatusBadRequest)
		return false
	}
	return true
}

type itemRequest struct {
	Code     string          `json:"code" validate:"required"`
	Name     string          `json:"name" validate:"required"`
	BaseUnit string          `json:"baseUnit" validate:"required"`
	PackSize decimal.Decimal `json:"packSize"`
}

type supplierRequest struct {
	Code    string `json:"code" validate:"required"`
	Name    string `json:"name" validate:"required"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type customerRequest struct {
	Code            string          `json:"code" validate:"required"`
	Name            string          `json:"name" validate:"required"`
	Phone           string          `json:"phone"`
	Address         string          `json:"address"`
	PreviousBalance decimal.Decimal `json:"previousBalance"`
}

type purchaseLineRequest struct {
	ItemCode        string          `json:"itemCode" validate:"required"`
	SupplierCode    string          `json:"supplierCode" validate:"required"`
	Quantity        decimal.Decimal `json:"quantity"`
	BonusQuantity   decimal.Decimal `json:"bonusQuantity"`
	PurchaseRate    decimal.Decimal `json:"purchaseRate"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	PackMode        bool            `json:"packMode"`
	PurchaseDate    string          `json:"purchaseDate" validate:"required,datetime=2006-01-02"`
}

func (req purchaseLineRequest) toInput() core.PurchaseLineInput {
	return core.PurchaseLineInput{
		ItemCode:        req.ItemCode,
		SupplierCode:    req.SupplierCode,
		Quantity:        req.Quantity,
		BonusQuantity:   req.BonusQuantity,
		PurchaseRate:    req.PurchaseRate,
		DiscountPercent: req.DiscountPercent,
		PackMode:        req.PackMode,
		PurchaseDate:    req.PurchaseDate,
	}
}

type returnRequest struct {
	LineID     int             `json:"lineId" validate:"required,gt=0"`
	Quantity   decimal.Decimal `json:"quantity"`
	ReturnDate string          `json:"returnDate" validate:"required,datetime=2006-01-02"`
}

type saleLineRequest struct {
	ItemCode        string          `json:"itemCode" validate:"required"`
	Quantity        decimal.Decimal `json:"quantity"`
	BonusQuantity   decimal.Decimal `json:"bonusQuantity"`
	TradePrice      decimal.Decimal `json:"tradePrice"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	TaxPercent      decimal.Decimal `json:"taxPercent"`
	PackMode        bool            `json:"packMode"`
}

type saleInvoiceRequest struct {
	CustomerCode  string            `json:"customerCode" validate:"required"`
	InvoiceDate   string            `json:"invoiceDate" validate:"required,datetime=2006-01-02"`
	AmountPaid    decimal.Decimal   `json:"amountPaid"`
	AllowNegative bool              `json:"allowNegative"`
	Lines         []saleLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (req saleInvoiceRequest) toInput() core.SaleInvoiceInput {
	input := core.SaleInvoiceInput{
		CustomerCode:  req.CustomerCode,
		InvoiceDate:   req.InvoiceDate,
		AmountPaid:    req.AmountPaid,
		AllowNegative: req.AllowNegative,
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, core.SaleLineInput{
			ItemCode:        l.ItemCode,
			Quantity:        l.Quantity,
			BonusQuantity:   l.BonusQuantity,
			TradePrice:      l.TradePrice,
			DiscountPercent: l.DiscountPercent,
			TaxPercent:      l.TaxPercent,
			PackMode:        l.PackMode,
		})
	}
	return input
}

type damageRequest struct {
	ItemCode      string          `json:"itemCode" validate:"required"`
	SupplierCode  string          `json:"supplierCode" validate:"required"`
	Type          string          `json:"type" validate:"required,oneof=out in"`
	Quantity      decimal.Decimal `json:"quantity"`
	PackMode      bool            `json:"packMode"`
	AllowNegative bool            `json:"allowNegative"`
	Notes         string          `json:"notes" validate:"required"`
	DamageDate    string          `json:"damageDate" validate:"required,datetime=2006-01-02"`
}

func (req damageRequest) toInput() core.DamageInput {
	return core.DamageInput{
		ItemCode:      req.ItemCode,
		SupplierCode:  req.SupplierCode,
		Type:          core.DamageType(req.Type),
		Quantity:      req.Quantity,
		PackMode:      req.PackMode,
		AllowNegative: req.AllowNegative,
		Notes:         req.Notes,
		DamageDate:    req.DamageDate,
	}
}

type paymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}
