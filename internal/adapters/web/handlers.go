package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"invoicing-service/internal/app"
	"invoicing-service/internal/core"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const defaultMaxBodyBytes = 1 << 20

// Options configures NewHandler.
type Options struct {
	AllowedOrigins string
	JWTSecret      string
	// MaxBodyBytes caps request bodies on protected routes. Zero means 1 MB.
	MaxBodyBytes int64
}

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc       app.ApplicationService
	logger    *zap.Logger
	router    chi.Router
	jwtSecret string
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, logger *zap.Logger, opts Options) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	h := &Handler{
		svc:       svc,
		logger:    logger,
		jwtSecret: opts.JWTSecret,
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recoverer(logger))
	r.Use(CORS(opts.AllowedOrigins))

	r.Get("/api/health", h.health)
	r.Get("/api/schema/invoice-posting", h.invoicePostingSchema)

	r.Group(func(r chi.Router) {
		r.Use(h.RequireTenant)
		r.Use(RequestBodyLimit(opts.MaxBodyBytes))

		r.Post("/api/invoices", h.postInvoice)
		r.Get("/api/invoices", h.listInvoices)
		r.Get("/api/invoices/{id}", h.getInvoice)

		r.Get("/api/products", h.listProducts)
		r.Get("/api/products/{id}/movements", h.listMovements)
	})

	h.router = r
	return r
}

// health reports liveness.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// invoicePostingSchema handles GET /api/schema/invoice-posting.
func (h *Handler) invoicePostingSchema(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/schema+json")
	_ = json.NewEncoder(w).Encode(h.svc.InvoicePostingSchema())
}

// postInvoice handles POST /api/invoices.
func (h *Handler) postInvoice(w http.ResponseWriter, r *http.Request) {
	var req app.PostInvoiceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.PostInvoice(r.Context(), sessionFromContext(r.Context()), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, successResponse{
		Success: true,
		Message: "invoice posted",
		Data:    res.Invoice,
		Posting: &res.PostingDetails,
	})
}

// getInvoice handles GET /api/invoices/{id}.
func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.GetInvoice(r.Context(), sessionFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", res.Invoice)
}

// listInvoices handles GET /api/invoices?type=&page=&pageSize=.
func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	page, size, ok := pageParams(w, r)
	if !ok {
		return
	}
	res, err := h.svc.ListInvoices(r.Context(), sessionFromContext(r.Context()), app.ListInvoicesRequest{
		Type:     core.InvoiceType(r.URL.Query().Get("type")),
		Page:     page,
		PageSize: size,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", res)
}

// listProducts handles GET /api/products?storeId=&q=&negative=.
func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	page, size, ok := pageParams(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	negative := false
	if v := q.Get("negative"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, "negative must be a boolean", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
		negative = b
	}
	res, err := h.svc.ListProducts(r.Context(), sessionFromContext(r.Context()), app.ListProductsRequest{
		StoreID:      q.Get("storeId"),
		Search:       q.Get("q"),
		NegativeOnly: negative,
		Page:         page,
		PageSize:     size,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", res)
}

// listMovements handles GET /api/products/{id}/movements.
func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	page, size, ok := pageParams(w, r)
	if !ok {
		return
	}
	res, err := h.svc.ListMovements(r.Context(), sessionFromContext(r.Context()), app.ListMovementsRequest{
		ProductID: chi.URLParam(r, "id"),
		Page:      page,
		PageSize:  size,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", res)
}

// pageParams reads page and pageSize. Absent values are zero and take service defaults.
func pageParams(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	q := r.URL.Query()
	var out [2]int
	for i, name := range []string{"page", "pageSize"} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, name+" must be a non-negative integer", "BAD_REQUEST", http.StatusBadRequest)
			return 0, 0, false
		}
		out[i] = n
	}
	return out[0], out[1], true
}

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	// Numbers stay exact until the core coerces them.
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
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
