package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxOrderUnits ограничивает суммарное количество единиц в заказе.
const MaxOrderUnits = 100

// OrderItem описывает запрошенную позицию: товар и количество.
type OrderItem struct {
	ProductID int64
	Quantity  int32
}

// OrderLine описывает позицию сохранённого заказа. Идентичность: (OrderID, ProductID).
type OrderLine struct {
	OrderID   int64
	ProductID int64
	Quantity  int32
	// Subtotal фиксируется при создании и не пересчитывается от текущей цены товара.
	Subtotal decimal.Decimal
	// ProductName заполняется при чтении.
	ProductName string
}

// Order агрегирует заголовок заказа и его позиции.
type Order struct {
	ID         int64
	CustomerID int64
	CreatedAt  time.Time
	Total      decimal.Decimal
	Lines      []OrderLine
	// InvoiceID равен 0, пока счёт не выставлен.
	InvoiceID int64
	// CustomerName заполняется при чтении.
	CustomerName string
}

// Invoiced сообщает, выставлен ли по заказу счёт.
func (o Order) Invoiced() bool {
	return o.InvoiceID != 0
}

// LinesTotal возвращает сумму подытогов позиций.
func (o Order) LinesTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, line := range o.Lines {
		sum = sum.Add(line.Subtotal)
	}
	return sum
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if len(o.Lines) == 0 {
		errs = append(errs, ErrItemsRequired)
	}

	seen := make(map[int64]struct{}, len(o.Lines))
	for _, line := range o.Lines {
		if line.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if _, dup := seen[line.ProductID]; dup {
			errs = append(errs, ErrDuplicateItem)
		}
		seen[line.ProductID] = struct{}{}
	}

	if !o.Total.Equal(o.LinesTotal()) {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}
