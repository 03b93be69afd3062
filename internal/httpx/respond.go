package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ariefcatur/go-order-stock/internal/logger"
	"github.com/ariefcatur/go-order-stock/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind      string         `json:"kind"`
	Message   string         `json:"message"`
	Entity    string         `json:"entity,omitempty"`
	ID        int64          `json:"id,omitempty"`
	Requested *int           `json:"requested,omitempty"`
	Available *int           `json:"available,omitempty"`
	From      orders.Status  `json:"from,omitempty"`
	To        orders.Status  `json:"to,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind orders.Kind) int {
	switch kind {
	case orders.KindNotFound:
		return http.StatusNotFound
	case orders.KindInsufficientStock, orders.KindConflict, orders.KindInvalidArgument:
		return http.StatusBadRequest
	case orders.KindInvalidTransition:
		return http.StatusConflict
	case orders.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var de *orders.Error
	if !errors.As(err, &de) {
		if errors.Is(err, context.DeadlineExceeded) {
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: errorDetail{Kind: string(orders.KindUnavailable), Message: "request timed out"}})
			return
		}
		logger.Error(ctx, h.log(), "request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{Kind: "internal", Message: "internal error"}})
		return
	}

	d := errorDetail{Kind: string(de.Kind), Message: de.Error(), Entity: de.Entity, ID: de.ID}
	switch de.Kind {
	case orders.KindInsufficientStock:
		d.Requested, d.Available = &de.Requested, &de.Available
	case orders.KindInvalidTransition:
		d.From, d.To = de.From, de.To
	case orders.KindUnavailable:
		logger.Error(ctx, h.log(), "store unavailable", zap.Error(err))
		d.Message = "service temporarily unavailable"
	}
	writeJSON(w, StatusFor(de.Kind), errorBody{Error: d})
}

func (h *Handler) writeValidation(w http.ResponseWriter, err error) {
	d := errorDetail{Kind: string(orders.KindInvalidArgument), Message: "invalid request body"}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		d.Fields = make(map[string]any, len(verrs))
		for _, fe := range verrs {
			d.Fields[fieldPath(fe)] = ruleText(fe)
		}
	}
	writeJSON(w, http.StatusBadRequest, errorBody{Error: d})
}

// decode reads a JSON body and runs struct validation.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
			Kind:    string(orders.KindInvalidArgument),
			Message: "invalid json: " + err.Error(),
		}})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeValidation(w, err)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
			Kind:    string(orders.KindInvalidArgument),
			Message: fmt.Sprintf("invalid id %q", raw),
		}})
		return 0, false
	}
	return id, true
}

// fieldPath turns "CreateOrderReq.Items[0].Quantity" into "items[0].quantity".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return ns
}

func ruleText(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}
