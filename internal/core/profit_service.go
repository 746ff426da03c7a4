package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ProfitSplit divides an invoice's profit between the collected and
// uncollected share of its billing.
type ProfitSplit struct {
	CollectionRatio decimal.Decimal `json:"collectionRatio"`
	Profit          decimal.Decimal `json:"profit"`
	RealizedProfit  decimal.Decimal `json:"realizedProfit"`
	PendingProfit   decimal.Decimal `json:"pendingProfit"`
}

// InvoiceProfit is the per-invoice attribution report.
type InvoiceProfit struct {
	InvoiceID     int             `json:"invoiceId"`
	InvoiceNumber string          `json:"invoiceNumber"`
	CustomerID    int             `json:"customerId"`
	InvoiceDate   string          `json:"invoiceDate"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	AmountPaid    decimal.Decimal `json:"amountPaid"`
	CostOfGoods   decimal.Decimal `json:"costOfGoods"`
	ProfitSplit
}

// CustomerProfit aggregates attribution across a customer's invoices in a
// date range. Realized and pending shares are attributed per invoice and then
// summed, so the aggregate always reconciles against the individual invoice
// reports. CollectionRatio is the summed-paid over summed-billed figure.
type CustomerProfit struct {
	CustomerID   int             `json:"customerId"`
	CustomerCode string          `json:"customerCode"`
	CustomerName string          `json:"customerName"`
	FromDate     string          `json:"fromDate"`
	ToDate       string          `json:"toDate"`
	InvoiceCount int             `json:"invoiceCount"`
	TotalAmount  decimal.Decimal `json:"totalAmount"`
	AmountPaid   decimal.Decimal `json:"amountPaid"`
	CostOfGoods  decimal.Decimal `json:"costOfGoods"`
	ProfitSplit
}

// ProfitService attributes gross profit to collected vs pending revenue.
// Cost of goods comes from the per-line cost snapshot taken at sale time, so
// later purchases never shift a historical invoice's reported profit.
type ProfitService interface {
	ComputeInvoiceProfit(ctx context.Context, invoiceID int) (*InvoiceProfit, error)
	// ComputeCustomerProfit aggregates over [fromDate, toDate] inclusive,
	// dates in YYYY-MM-DD.
	ComputeCustomerProfit(ctx context.Context, customerCode, fromDate, toDate string) (*CustomerProfit, error)
}

type profitService struct {
	pool *pgxpool.Pool
}

func NewProfitService(pool *pgxpool.Pool) ProfitService {
	return &profitService{pool: pool}
}

// attributeProfit splits profit by the collected fraction of the billing.
// The ratio clamps to [0, 1]: overpayments realize everything, a zero-total
// invoice realizes nothing until paid. Pending is derived as the rounded
// remainder so the two shares always sum to the rounded profit, including
// for losses, where both shares carry the loss's sign.
func attributeProfit(totalAmount, amountPaid, costOfGoods decimal.Decimal) ProfitSplit {
	ratio := decimal.Zero
	if totalAmount.IsPositive() {
		ratio = amountPaid.Div(totalAmount)
		if ratio.IsNegative() {
			ratio = decimal.Zero
		}
		if ratio.GreaterThan(decimal.NewFromInt(1)) {
			ratio = decimal.NewFromInt(1)
		}
	}

	profit := totalAmount.Sub(costOfGoods).Round(2)
	realized := profit.Mul(ratio).Round(2)
	return ProfitSplit{
		CollectionRatio: ratio.Round(4),
		Profit:          profit,
		RealizedProfit:  realized,
		PendingProfit:   profit.Sub(realized),
	}
}

func (s *profitService) ComputeInvoiceProfit(ctx context.Context, invoiceID int) (*InvoiceProfit, error) {
	report := &InvoiceProfit{InvoiceID: invoiceID}
	err := s.pool.QueryRow(ctx, `
		SELECT si.invoice_number, si.customer_id, si.invoice_date::text,
		       si.total_amount, si.amount_paid,
		       COALESCE((SELECT SUM(sl.quantity * sl.unit_cost_at_sale)
		                 FROM sale_lines sl WHERE sl.invoice_id = si.id), 0)
		FROM sale_invoices si
		WHERE si.id = $1
	`, invoiceID).Scan(
		&report.InvoiceNumber, &report.CustomerID, &report.InvoiceDate,
		&report.TotalAmount, &report.AmountPaid, &report.CostOfGoods,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("invoice %d not found", invoiceID)
		}
		return nil, fmt.Errorf("compute profit for invoice %d: %w", invoiceID, err)
	}

	report.CostOfGoods = report.CostOfGoods.Round(2)
	report.ProfitSplit = attributeProfit(report.TotalAmount, report.AmountPaid, report.CostOfGoods)
	return report, nil
}

func (s *profitService) ComputeCustomerProfit(ctx context.Context, customerCode, fromDate, toDate string) (*CustomerProfit, error) {
	if err := parseDate("fromDate", fromDate); err != nil {
		return nil, err
	}
	if err := parseDate("toDate", toDate); err != nil {
		return nil, err
	}

	report := &CustomerProfit{FromDate: fromDate, ToDate: toDate}
	err := s.pool.QueryRow(ctx,
		"SELECT id, code, name FROM customers WHERE code = $1", customerCode,
	).Scan(&report.CustomerID, &report.CustomerCode, &report.CustomerName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, invalidf("customerCode", "customer %s not found", customerCode)
		}
		return nil, fmt.Errorf("resolve customer %s: %w", customerCode, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT si.total_amount, si.amount_paid,
		       COALESCE((SELECT SUM(sl.quantity * sl.unit_cost_at_sale)
		                 FROM sale_lines sl WHERE sl.invoice_id = si.id), 0)
		FROM sale_invoices si
		WHERE si.customer_id = $1
		  AND si.invoice_date BETWEEN $2::date AND $3::date
		ORDER BY si.id
	`, report.CustomerID, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("aggregate profit for customer %s: %w", customerCode, err)
	}
	defer rows.Close()

	report.TotalAmount = decimal.Zero
	report.AmountPaid = decimal.Zero
	report.CostOfGoods = decimal.Zero
	report.Profit = decimal.Zero
	report.RealizedProfit = decimal.Zero
	report.PendingProfit = decimal.Zero

	for rows.Next() {
		var total, paid, cogs decimal.Decimal
		if err := rows.Scan(&total, &paid, &cogs); err != nil {
			return nil, fmt.Errorf("scan invoice for customer %s: %w", customerCode, err)
		}
		cogs = cogs.Round(2)

		// Attribute per invoice, then sum, so this report reconciles
		// against the individual invoice reports.
		split := attributeProfit(total, paid, cogs)
		report.InvoiceCount++
		report.TotalAmount = report.TotalAmount.Add(total)
		report.AmountPaid = report.AmountPaid.Add(paid)
		report.CostOfGoods = report.CostOfGoods.Add(cogs)
		report.Profit = report.Profit.Add(split.Profit)
		report.RealizedProfit = report.RealizedProfit.Add(split.RealizedProfit)
		report.PendingProfit = report.PendingProfit.Add(split.PendingProfit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("invoice iteration for customer %s: %w", customerCode, err)
	}

	report.CollectionRatio = decimal.Zero
	if report.TotalAmount.IsPositive() {
		ratio := report.AmountPaid.Div(report.TotalAmount)
		if ratio.GreaterThan(decimal.NewFromInt(1)) {
			ratio = decimal.NewFromInt(1)
		}
		if ratio.IsNegative() {
			ratio = decimal.Zero
		}
		report.CollectionRatio = ratio.Round(4)
	}
	return report, nil
}
