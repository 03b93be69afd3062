package redisx

import (
	"fmt"
	"time"
)

const (
	// Idempotency create order: idem:order:create:{idempotency_key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s"

	// Cache status order: order_status:{order_id} -> {"status": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%d"

	// Assembled order with items: order:{order_id} -> JSON orders.Order
	KeyOrder = "order:%d"

	// Product snapshot: product:{product_id} -> JSON orders.Product
	KeyProduct = "product:%d"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLOrderCache  = 5 * time.Minute
	TTLProduct     = time.Minute
	TTLDedup       = 48 * time.Hour
)

func OrderStatusKey(orderID int64) string { return fmt.Sprintf(KeyOrderStatus, orderID) }
func OrderKey(orderID int64) string       { return fmt.Sprintf(KeyOrder, orderID) }
func ProductKey(productID int64) string   { return fmt.Sprintf(KeyProduct, productID) }
func IdemKey(key string) string           { return fmt.Sprintf(KeyIdemOrderCreate, key) }
func DedupKey(service, eventID string) string {
	return fmt.Sprintf(KeyDedup, service, eventID)
}
