package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/openmart/orders-api/internal/domain/order"
	"github.com/openmart/orders-api/internal/domain/product"
)

// errorBody is the wire shape of every failure response.
type errorBody struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string, context map[string]any) {
	respondJSON(w, status, errorBody{Code: status, Message: message, Context: context})
}

// respondDomainError maps the domain error taxonomy onto HTTP status codes.
// Unknown errors become an opaque 500; the details stay in the log.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *order.ValidationError
		stockErr      *order.InsufficientStockError
		transitionErr *order.IllegalTransitionError
		authzErr      *order.AuthorizationError
	)
	switch {
	case errors.As(err, &validationErr):
		respondError(w, http.StatusBadRequest, validationErr.Error(), nil)
	case errors.As(err, &stockErr):
		respondError(w, http.StatusConflict, stockErr.Error(), map[string]any{
			"product_id": stockErr.ProductID,
			"requested":  stockErr.Requested,
			"available":  stockErr.Available,
		})
	case errors.As(err, &transitionErr):
		respondError(w, http.StatusConflict, transitionErr.Error(), map[string]any{
			"from": transitionErr.From,
			"to":   transitionErr.To,
		})
	case errors.As(err, &authzErr):
		respondError(w, http.StatusForbidden, authzErr.Error(), nil)
	case errors.Is(err, order.ErrNotFound):
		respondError(w, http.StatusNotFound, "order not found", nil)
	case errors.Is(err, product.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error(), nil)
	default:
		zctx.From(r.Context()).Error("request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error", nil)
	}
}

// decodeJSON decodes the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "decode body")
	}
	return nil
}
