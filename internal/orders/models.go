package orders

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
}

// ProductPatch is the full set of fields a product update may replace.
type ProductPatch struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int
}

func (p ProductPatch) Apply(dst *Product) {
	dst.Name = p.Name
	dst.Description = p.Description
	dst.Price = p.Price
	dst.Stock = p.Stock
}

type Order struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Status    Status    `json:"status"` // lihat status.go
	// StatusChangedAt is when Status was last written, stamped by the store.
	StatusChangedAt time.Time   `json:"status_changed_at"`
	Items           []OrderItem `json:"items"`
}

type OrderItem struct {
	ID        int64 `json:"id"`
	OrderID   int64 `json:"order_id"`
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type ItemInput struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// DistinctProductIDs returns each referenced product once, ascending, which is
// also the lock order used by the stores.
func DistinctProductIDs(items []ItemInput) []int64 {
	seen := make(map[int64]struct{}, len(items))
	out := make([]int64, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it.ProductID]; ok {
			continue
		}
		seen[it.ProductID] = struct{}{}
		out = append(out, it.ProductID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
