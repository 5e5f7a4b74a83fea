package sales

import (
	"time"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
	"github.com/vladislavdragonenkov/salesmaster/internal/service/compaction"
)

type customerEvent struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type productEvent struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Price string `json:"price"`
}

type deletedEvent struct {
	ID int64 `json:"id"`
}

type compactedEvent struct {
	Kind  string          `json:"kind"`
	Count int             `json:"count"`
	Remap map[int64]int64 `json:"remap"`
}

type orderLineEvent struct {
	ProductID int64  `json:"product_id"`
	Quantity  int32  `json:"quantity"`
	Subtotal  string `json:"subtotal"`
}

type orderEvent struct {
	ID         int64            `json:"id"`
	CustomerID int64            `json:"customer_id"`
	Total      string           `json:"total"`
	CreatedAt  time.Time        `json:"created_at"`
	Lines      []orderLineEvent `json:"lines"`
}

type invoiceEvent struct {
	ID       int64     `json:"id"`
	OrderID  int64     `json:"order_id"`
	Number   string    `json:"number"`
	Total    string    `json:"total"`
	IssuedAt time.Time `json:"issued_at"`
}

func newCustomerEvent(c domain.Customer) customerEvent {
	return customerEvent{ID: c.ID, Name: c.Name, Email: c.Email}
}

func newProductEvent(p domain.Product) productEvent {
	return productEvent{ID: p.ID, Name: p.Name, Price: p.Price.StringFixed(2)}
}

func newCompactedEvent(r compaction.Result) compactedEvent {
	return compactedEvent{Kind: string(r.Kind), Count: r.Count, Remap: r.Remap}
}

func newOrderEvent(o domain.Order) orderEvent {
	lines := make([]orderLineEvent, 0, len(o.Lines))
	for _, line := range o.Lines {
		lines = append(lines, orderLineEvent{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Subtotal:  line.Subtotal.StringFixed(2),
		})
	}
	return orderEvent{
		ID:         o.ID,
		CustomerID: o.CustomerID,
		Total:      o.Total.StringFixed(2),
		CreatedAt:  o.CreatedAt,
		Lines:      lines,
	}
}

func newInvoiceEvent(inv domain.Invoice) invoiceEvent {
	return invoiceEvent{
		ID:       inv.ID,
		OrderID:  inv.OrderID,
		Number:   inv.Number,
		Total:    inv.Total.StringFixed(2),
		IssuedAt: inv.IssuedAt,
	}
}
