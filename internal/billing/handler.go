// internal/billing/handler.go
package billing

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Handler is a thin HTTP surface over the Service for the surrounding
// application. Routing beyond this reference wiring lives outside the core.
type Handler struct {
	service Service
	logger  *zap.Logger
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes mounts the ledger endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/members", h.handleCreateMember)
	r.Get("/members/{ref}", h.handleGetMember)
	r.Put("/members/{ref}/business-id", h.handleAssignBusinessID)
	r.Post("/members/{ref}/recalculate", h.handleRecalculate)

	r.Post("/invoices", h.handleCreateInvoice)
	r.Get("/invoices/{ref}", h.handleGetInvoice)
	r.Post("/invoices/{ref}/archive", h.handleArchiveInvoice)
	r.Post("/invoices/overdue-sweep", h.handleMarkOverdue)

	r.Post("/payments", h.handleSubmitPayment)
	r.Get("/payments/{ref}", h.handleGetPayment)
	r.Post("/payments/{ref}/approve", h.handleApprovePayment)
	r.Post("/payments/{ref}/reject", h.handleRejectPayment)

	return r
}

func (h *Handler) handleApprovePayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ApproverID   string `json:"approver_id"`
		ApproverName string `json:"approver_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.service.ApprovePayment(r.Context(), chi.URLParam(r, "ref"), req.ApproverID, req.ApproverName)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleRejectPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RejectorID string `json:"rejector_id"`
		Reason     string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	payment, err := h.service.RejectPayment(r.Context(), chi.URLParam(r, "ref"), req.RejectorID, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (h *Handler) handleSubmitPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InvoiceRef string `json:"invoice_ref"`
		Amount     string `json:"amount"`
		Method     string `json:"method"`
		Reference  string `json:"reference"`
		Screenshot string `json:"screenshot"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	payment, err := h.service.SubmitPayment(r.Context(), req.InvoiceRef, req.Amount, req.Method, req.Reference, req.Screenshot)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

func (h *Handler) handleCreateMember(w http.ResponseWriter, r *http.Request) {
	var req NewMember
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	member, err := h.service.CreateMember(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

func (h *Handler) handleAssignBusinessID(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BusinessID string `json:"business_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	member, err := h.service.AssignBusinessID(r.Context(), chi.URLParam(r, "ref"), req.BusinessID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (h *Handler) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req NewInvoice
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	invoice, err := h.service.CreateInvoice(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, invoice)
}

func (h *Handler) handleArchiveInvoice(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ArchiveInvoice(r.Context(), chi.URLParam(r, "ref")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMarkOverdue(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.MarkOverdue(r.Context(), time.Now().UTC())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked_overdue": count})
}

func (h *Handler) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	balance, err := h.service.RecalculateBalance(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": balance})
}

func (h *Handler) handleGetMember(w http.ResponseWriter, r *http.Request) {
	member, err := h.service.GetMember(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (h *Handler) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, err := h.service.GetInvoice(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

func (h *Handler) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.service.GetPayment(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

// writeError maps the error taxonomy onto HTTP statuses. Conflict means
// "already processed" and is safe for the caller to treat as idempotent
// success once it confirms the invoice is paid; transient store failures
// are safe to retry.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrInvalidReference):
		status = http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, ErrInvariant):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ErrTransientStore):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("unhandled service error", zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
