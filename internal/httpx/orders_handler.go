package httpx

import (
	"context"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/ariefcatur/go-order-stock/internal/logger"
	"github.com/ariefcatur/go-order-stock/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"

	maxIdempotencyKeyLen = 255
)

// Idempotency remembers which order a client request key produced.
type Idempotency interface {
	LookupIdempotent(ctx context.Context, key string) (int64, bool)
	RememberIdempotent(ctx context.Context, key string, orderID int64)
}

type Handler struct {
	Service     *orders.Service
	Idempotency Idempotency
	Logger      *zap.Logger
	Timeout     time.Duration

	validate *validator.Validate
}

func NewHandler(svc *orders.Service, idem Idempotency, logger *zap.Logger, timeout time.Duration) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Handler{Service: svc, Idempotency: idem, Logger: logger, Timeout: timeout, validate: v}
}

type ItemReq struct {
	ProductID int64 `json:"product_id" validate:"gt=0"`
	Quantity  int   `json:"quantity" validate:"gt=0"`
}

type CreateOrderReq struct {
	Status string    `json:"status"`
	Items  []ItemReq `json:"items" validate:"required,min=1,dive"`
}

type SetStatusReq struct {
	Status string `json:"status" validate:"required"`
}

type StatusResp struct {
	OrderID int64         `json:"order_id"`
	Status  orders.Status `json:"status"`
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/{id}", h.getOrder)
		r.Get("/{id}/status", h.getOrderStatus)
		r.Patch("/{id}/status", h.setOrderStatus)
	})
	r.Route("/products", func(r chi.Router) {
		r.Post("/", h.createProduct)
		r.Get("/", h.listProducts)
		r.Get("/{id}", h.getProduct)
		r.Put("/{id}", h.updateProduct)
		r.Delete("/{id}", h.deleteProduct)
	})
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if !h.decode(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	// Fast-path idempotency via Redis; DB tetap jadi kebenaran
	idemKey := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if len(idemKey) > maxIdempotencyKeyLen {
		h.writeError(ctx, w, orders.InvalidArgument("Idempotency-Key is too long"))
		return
	}
	if idemKey != "" && h.Idempotency != nil {
		if id, ok := h.Idempotency.LookupIdempotent(ctx, idemKey); ok {
			o, err := h.Service.GetOrder(ctx, id)
			if err == nil {
				w.Header().Set(HeaderReplayed, "true")
				writeJSON(w, http.StatusOK, o)
				return
			}
			logger.Warn(ctx, h.log(), "idempotent replay failed", zap.String("key", idemKey), zap.Error(err))
		}
	}

	items := make([]orders.ItemInput, len(req.Items))
	for i, it := range req.Items {
		items[i] = orders.ItemInput{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	o, replayed, err := h.Service.CreateOrderWithKey(ctx, idemKey, req.Status, items)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	if idemKey != "" && h.Idempotency != nil {
		h.Idempotency.RememberIdempotent(ctx, idemKey, o.ID)
	}
	if replayed {
		w.Header().Set(HeaderReplayed, "true")
		writeJSON(w, http.StatusOK, o)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	list, err := h.Service.ListOrders(ctx)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	o, err := h.Service.GetOrder(ctx, id)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	st, err := h.Service.GetOrderStatus(ctx, id)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResp{OrderID: id, Status: st})
}

// setOrderStatus accepts the new status as a JSON body or as ?status=.
func (h *Handler) setOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req SetStatusReq
	if q := r.URL.Query().Get("status"); q != "" {
		req.Status = q
	} else if !h.decode(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	o, err := h.Service.SetStatus(ctx, id, req.Status)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) log() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}
