package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
)

// OrderComposer собирает агрегат заказа из запрошенных позиций.
type OrderComposer struct {
	now func() time.Time
}

// NewOrderComposer создаёт композитор с источником времени now.
func NewOrderComposer(now func() time.Time) *OrderComposer {
	if now == nil {
		now = time.Now
	}
	return &OrderComposer{now: now}
}

// Compose проверяет позиции, разрешает клиента и товары, считает подытоги и сохраняет
// заказ одним целым в рамках tx. Возвращает заказ с id и именами клиента и товаров.
func (c *OrderComposer) Compose(ctx context.Context, tx domain.Tx, customerID int64, items []domain.OrderItem) (domain.Order, error) {
	if err := checkItems(items); err != nil {
		return domain.Order{}, err
	}

	if _, err := tx.Customers().Get(ctx, customerID); err != nil {
		return domain.Order{}, err
	}

	order := domain.Order{
		CustomerID: customerID,
		CreatedAt:  c.now().UTC(),
		Total:      decimal.Zero,
		Lines:      make([]domain.OrderLine, 0, len(items)),
	}
	for _, item := range items {
		product, err := tx.Products().Get(ctx, item.ProductID)
		if err != nil {
			return domain.Order{}, err
		}
		subtotal := product.Price.Mul(decimal.NewFromInt32(item.Quantity))
		order.Lines = append(order.Lines, domain.OrderLine{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Subtotal:  subtotal,
		})
		order.Total = order.Total.Add(subtotal)
	}

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, errors.Join(errs...)
	}

	saved, err := tx.Orders().Create(ctx, order)
	if err != nil {
		return domain.Order{}, fmt.Errorf("persist order: %w", err)
	}
	return saved, nil
}

// checkItems проверяет список позиций до обращения к хранилищу.
func checkItems(items []domain.OrderItem) error {
	if len(items) == 0 {
		return domain.ErrItemsRequired
	}

	var units int64
	seen := make(map[int64]struct{}, len(items))
	for i, item := range items {
		if item.Quantity < 1 {
			return fmt.Errorf("%w: item[%d] quantity %d", domain.ErrItemQtyInvalid, i, item.Quantity)
		}
		if _, dup := seen[item.ProductID]; dup {
			return fmt.Errorf("%w: product %d", domain.ErrDuplicateItem, item.ProductID)
		}
		seen[item.ProductID] = struct{}{}
		units += int64(item.Quantity)
	}

	if units > domain.MaxOrderUnits {
		return fmt.Errorf("%w: attempted %d units, limit is %d", domain.ErrOrderUnitsLimit, units, domain.MaxOrderUnits)
	}
	return nil
}

// totalUnits возвращает суммарное количество единиц заказа.
func totalUnits(order domain.Order) int {
	var units int
	for _, line := range order.Lines {
		units += int(line.Quantity)
	}
	return units
}
