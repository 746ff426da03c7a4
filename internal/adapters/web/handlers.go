package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"distro-backend/internal/core"
)

// Services bundles the domain services the HTTP layer exposes.
type Services struct {
	Catalog core.CatalogService
	Ledger  core.LedgerService
	Stock   core.StockService
	Costing core.CostingService
	Profit  core.ProfitService
}

// Handler holds the domain services and the chi router.
type Handler struct {
	svc    Services
	router chi.Router
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc Services, allowedOrigins []string, log *logrus.Logger) http.Handler {
	h := &Handler{svc: svc}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recoverer(log))
	r.Use(CORS(allowedOrigins))
	r.Use(RequestBodyLimit(1 << 20)) // 1 MB

	r.Get("/api/health", h.health)

	// ── Masters ───────────────────────────────────────────────────────────────
	r.Get("/api/items", h.listItems)
	r.Post("/api/items", h.createItem)
	r.Get("/api/items/{code}", h.getItem)
	r.Delete("/api/items/{code}", h.deactivateItem)
	r.Post("/api/items/{code}/recost", h.recostItem)

	r.Get("/api/suppliers", h.listSuppliers)
	r.Post("/api/suppliers", h.createSupplier)

	r.Get("/api/customers", h.listCustomers)
	r.Post("/api/customers", h.createCustomer)
	r.Get("/api/customers/{code}", h.getCustomer)

	// ── Ledger entries ────────────────────────────────────────────────────────
	r.Post("/api/purchases", h.recordPurchase)
	r.Delete("/api/purchases/{id}", h.deletePurchase)
	r.Post("/api/purchase-returns", h.recordPurchaseReturn)
	r.Delete("/api/purchase-returns/{id}", h.deletePurchaseReturn)

	r.Post("/api/sales", h.recordSale)
	r.Get("/api/sales/{id}", h.getSale)
	r.Post("/api/sales/{id}/payments", h.recordPayment)
	r.Post("/api/sale-returns", h.recordSaleReturn)

	r.Post("/api/damages", h.recordDamage)

	// ── Stock & reports ───────────────────────────────────────────────────────
	r.Get("/api/stock", h.listStock)
	r.Get("/api/stock/{code}", h.getStock)
	r.Get("/api/reports/invoice-profit/{id}", h.invoiceProfit)
	r.Get("/api/reports/customer-profit/{code}", h.customerProfit)

	h.router = r
	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status string `json:"status"`
	}
	writeJSON(w, http.StatusOK, response{Status: "ok"})
}

// decodeJSON decodes the request body into v and writes an appropriate error
// response on failure. Returns HTTP 413 when the body exceeds the size limit
// set by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}

// idParam extracts a positive integer {id} URL parameter.
func idParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, r, "invalid id parameter", "BAD_REQUEST", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// ── Masters ──────────────────────────────────────────────────────────────────

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Catalog.ListItems(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if !decodeJSON(w, r, &req) || !checkRequest(w, r, req) {
		return
	}
	item, err := h.svc.Catalog.CreateItem(r.Context(), core.ItemInput{
		Code:     req.Code,
		Name:     req.Name,
		BaseUnit: req.BaseUnit,
		PackSize: req.PackSize,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.Catalog.GetItemByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) deactivateItem(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Catalog.DeactivateItem(r.Context(), chi.URLParam(r, "code")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// recostItem forces a full average-cost recompute for one item. Normally the
// recompute runs inside every purchase-side mutation; this endpoint exists
// for reconciliation after manual data fixes.
func (h *Handler) recostItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.Catalog.GetItemByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	cost, err := h.svc.Costing.RecalculateAverageCost(r.Context(), item.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	type response struct {
		ItemCode    string `json:"itemCode"`
		AverageCost string `json:"averageCost"`
	}
	writeJSON(w, http.StatusOK, response{ItemCode: item.Code, AverageCost: cost.StringFixed(2)})
}

func (h *Handler) listSuppliers(w http.ResponseWriter, r *http.Request) {
	suppliers, err := h.svc.Catalog.ListSuppliers(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, suppliers)
}

func (h *Handler) createSupplier(w http.ResponseWriter, r *http.Request) {
	var req supplierRequest
	if !decodeJSON(w, r, &req) || !checkRequest(w, r, req) {
		return
	}
	supplier, err := h.svc.Catalog.CreateSupplier(r.Context(), core.SupplierInput{
		Code:    req.Code,
		Name:    req.Name,
		Phone:   req.Phone,
		Address: req.Address,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, supplier)
}

func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.svc.Catalog.ListCustomers(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, customers)
}

func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if !decodeJSON(w, r, &req) || !checkRequest(w, r, req) {
		return
	}
	customer, err := h.svc.Catalog.CreateCustomer(r.Context(), core.CustomerInput{
		Code:            req.Code,
		Name:            req.Name,
		Phone:           req.Phone,
		Address:         req.Address,
		PreviousBalance: req.PreviousBalance,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, customer)
}

func (h *Handler) getCustomer(w http.ResponseWriter, r *http.Request) {
	customer, err := h.svc.Catalog.GetCustomerByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

// ── Ledger entries ───────────────────────────────────────────────────────────

func (h *Handler) recordPurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseLineRequest
	if !decodeJSON(w, r, &req) || !checkRequest(w, r, req) {
		return
	}
	line, err := h.svc.Ledger.RecordPurchaseLine(r.Context(), req.toInput())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, line)
}

func (h *Handler) deletePurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.svc.Ledger.DeletePurchaseLine(r.Context(), id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) recordPurchaseReturn(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if !decodeJSON(w, r, &req) || !checkRequest(w, r, req) {
		return
	}
	ret, err := h.svc.Ledger.RecordPurchaseReturn(r.Context(), core.PurchaseReturnInput{
		PurchaseLineID: req.LineID,
		Quantity:       req.Quantity,
		ReturnDate:     req.ReturnDate,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ret)
}

func (h *Handler) deletePurchaseReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.svc.Ledger.DeletePurchaseReturn(r.Context(), id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) recordSale(w http.ResponseWriter, r *http.Request) {
	var req saleInvoiceRequest
	if !decodeJSON(w, r, &req) || !checkRequest(w, r, req) {
		return
	}
	invoice, warnings, err := h.svc.Ledger.RecordSaleInvoice(r.Context(), req.toInput())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	type response struct {
		Invoice  *core.SaleInvoice          `json:"invoice"`
		Warnings []core.StockShortageDetail `json:"warnings,omitempty"`
	}
	writeJSON(w, http.StatusCreated, response{Invoice: invoice, Warnings: warnings})
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	invoice, err := h.svc.Ledger.GetInvoice(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	invoice, err := h.svc.Ledger.RecordPayment(r.Context(), id, req.Amount)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

func (h *Handler) recordSaleReturn(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if !decodeJSON(w, r, &req) || !checkRequest(w, r, req) {
		return
	}
	ret, err := h.svc.Ledger.RecordSaleReturn(r.Context(), core.SaleReturnInput{
		SaleLineID: req.LineID,
		Quantity:   req.Quantity,
		ReturnDate: req.ReturnDate,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ret)
}

func (h *Handler) recordDamage(w http.ResponseWriter, r *http.Request) {
	var req damageRequest
	if !decodeJSON(w, r, &req) || !checkRequest(w, r, req) {
		return
	}
	damage, warnings, err := h.svc.Ledger.RecordDamage(r.Context(), req.toInput())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	type response struct {
		Damage   *core.DamageTransaction    `json:"damage"`
		Warnings []core.StockShortageDetail `json:"warnings,omitempty"`
	}
	writeJSON(w, http.StatusCreated, response{Damage: damage, Warnings: warnings})
}

// ── Stock & reports ──────────────────────────────────────────────────────────

func (h *Handler) listStock(w http.ResponseWriter, r *http.Request) {
	positions, err := h.svc.Stock.GetStockPositions(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (h *Handler) getStock(w http.ResponseWriter, r *http.Request) {
	position, err := h.svc.Stock.GetStockPositionByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, position)
}

func (h *Handler) invoiceProfit(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	report, err := h.svc.Profit.ComputeInvoiceProfit(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) customerProfit(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Profit.ComputeCustomerProfit(
		r.Context(),
		chi.URLParam(r, "code"),
		r.URL.Query().Get("from"),
		r.URL.Query().Get("to"),
	)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
