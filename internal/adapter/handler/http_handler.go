package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/mhdang/seckill/internal/core/service"
)

// identityHeader carries the authenticated user id, resolved upstream by
// the identity middleware this service sits behind.
const identityHeader = "X-User-ID"

type HTTPHandler struct {
	admission *service.AdmissionService
	items     *service.ItemService
	logger    zerolog.Logger
}

type PurchaseRequest struct {
	ItemID int64 `json:"item_id"`
}

type PurchaseResponse struct {
	Success bool   `json:"success"`
	OrderID uint64 `json:"order_id,omitempty"`
	Message string `json:"message,omitempty"`
}

func NewHTTPHandler(admission *service.AdmissionService, items *service.ItemService, logger zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{admission: admission, items: items, logger: logger}
}

func (h *HTTPHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, err := strconv.ParseInt(r.Header.Get(identityHeader), 10, 64)
	if err != nil || userID <= 0 {
		writeJSON(w, http.StatusUnauthorized, PurchaseResponse{
			Success: false,
			Message: "missing or invalid user identity",
		})
		return
	}

	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ItemID <= 0 {
		writeJSON(w, http.StatusBadRequest, PurchaseResponse{
			Success: false,
			Message: "invalid request body",
		})
		return
	}

	orderID, err := h.admission.Purchase(r.Context(), userID, req.ItemID)
	if err != nil {
		status := http.StatusServiceUnavailable
		message := "try again later"

		switch {
		case errors.Is(err, service.ErrAlreadyPurchased):
			status = http.StatusConflict
			message = "already purchased"
		case errors.Is(err, service.ErrInsufficientStock):
			status = http.StatusConflict
			message = "sold out"
		default:
			h.logger.Error().Err(err).Int64("user_id", userID).Int64("item_id", req.ItemID).Msg("purchase failed")
		}

		writeJSON(w, status, PurchaseResponse{Success: false, Message: message})
		return
	}

	writeJSON(w, http.StatusOK, PurchaseResponse{Success: true, OrderID: orderID})
}

func (h *HTTPHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	itemID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || itemID <= 0 {
		http.Error(w, "invalid item id", http.StatusBadRequest)
		return
	}

	item, err := h.items.GetItem(r.Context(), itemID)
	if err != nil {
		h.logger.Error().Err(err).Int64("item_id", itemID).Msg("get item failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if item == nil {
		http.Error(w, "item not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, item)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
