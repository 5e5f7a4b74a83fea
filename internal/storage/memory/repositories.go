package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
)

type customerRepository struct{ t *tx }

func (r customerRepository) Create(_ context.Context, c domain.Customer) (domain.Customer, error) {
	if r.emailTaken(c.Email, 0) {
		return domain.Customer{}, domain.ErrDuplicateEmail
	}
	c.ID = r.t.state.nextVal(seqCustomer)
	if _, exists := r.t.state.customers[c.ID]; exists {
		return domain.Customer{}, fmt.Errorf("%w: customer %d", ErrDuplicateKey, c.ID)
	}
	r.t.state.customers[c.ID] = c
	return c, nil
}

func (r customerRepository) Update(_ context.Context, c domain.Customer) error {
	if _, ok := r.t.state.customers[c.ID]; !ok {
		return domain.NewNotFound("customer", c.ID)
	}
	if r.emailTaken(c.Email, c.ID) {
		return domain.ErrDuplicateEmail
	}
	r.t.state.customers[c.ID] = c
	return nil
}

func (r customerRepository) Get(_ context.Context, id int64) (domain.Customer, error) {
	c, ok := r.t.state.customers[id]
	if !ok {
		return domain.Customer{}, domain.NewNotFound("customer", id)
	}
	return c, nil
}

func (r customerRepository) GetByEmail(_ context.Context, email string) (domain.Customer, error) {
	for _, c := range r.t.state.customers {
		if c.Email == email {
			return c, nil
		}
	}
	return domain.Customer{}, fmt.Errorf("customer with email %q: %w", email, domain.ErrNotFound)
}

func (r customerRepository) List(context.Context) ([]domain.Customer, error) {
	ids := sortedKeys(r.t.state.customers)
	result := make([]domain.Customer, 0, len(ids))
	for _, id := range ids {
		result = append(result, r.t.state.customers[id])
	}
	return result, nil
}

func (r customerRepository) Delete(_ context.Context, id int64) error {
	if _, ok := r.t.state.customers[id]; !ok {
		return domain.NewNotFound("customer", id)
	}
	if r.t.enforced(domain.EntityCustomer) && r.t.state.referenced(domain.EntityCustomer, id) {
		return fmt.Errorf("%w: customer %d is referenced by pedido", ErrForeignKeyViolation, id)
	}
	delete(r.t.state.customers, id)
	return nil
}

func (r customerRepository) HasOrders(_ context.Context, id int64) (bool, error) {
	return r.t.state.referenced(domain.EntityCustomer, id), nil
}

func (r customerRepository) emailTaken(email string, exceptID int64) bool {
	for id, c := range r.t.state.customers {
		if id != exceptID && c.Email == email {
			return true
		}
	}
	return false
}

type productRepository struct{ t *tx }

func (r productRepository) Create(_ context.Context, p domain.Product) (domain.Product, error) {
	p.ID = r.t.state.nextVal(seqProduct)
	if _, exists := r.t.state.products[p.ID]; exists {
		return domain.Product{}, fmt.Errorf("%w: product %d", ErrDuplicateKey, p.ID)
	}
	r.t.state.products[p.ID] = p
	return p, nil
}

func (r productRepository) Update(_ context.Context, p domain.Product) error {
	if _, ok := r.t.state.products[p.ID]; !ok {
		return domain.NewNotFound("product", p.ID)
	}
	r.t.state.products[p.ID] = p
	return nil
}

func (r productRepository) Get(_ context.Context, id int64) (domain.Product, error) {
	p, ok := r.t.state.products[id]
	if !ok {
		return domain.Product{}, domain.NewNotFound("product", id)
	}
	return p, nil
}

func (r productRepository) List(context.Context) ([]domain.Product, error) {
	ids := sortedKeys(r.t.state.products)
	result := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		result = append(result, r.t.state.products[id])
	}
	return result, nil
}

func (r productRepository) Delete(_ context.Context, id int64) error {
	if _, ok := r.t.state.products[id]; !ok {
		return domain.NewNotFound("product", id)
	}
	if r.t.enforced(domain.EntityProduct) && r.t.state.referenced(domain.EntityProduct, id) {
		return fmt.Errorf("%w: product %d is referenced by pedido_producto", ErrForeignKeyViolation, id)
	}
	delete(r.t.state.products, id)
	return nil
}

func (r productRepository) IsReferenced(_ context.Context, id int64) (bool, error) {
	return r.t.state.referenced(domain.EntityProduct, id), nil
}

type orderRepository struct{ t *tx }

// Create сохраняет заголовок и позиции; при нарушении FK рабочая копия отбрасывается вместе с транзакцией.
func (r orderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	s := r.t.state
	if r.t.enforced(domain.EntityCustomer) && !s.exists(domain.EntityCustomer, order.CustomerID) {
		return domain.Order{}, fmt.Errorf("%w: customer %d", ErrForeignKeyViolation, order.CustomerID)
	}
	for _, line := range order.Lines {
		if r.t.enforced(domain.EntityProduct) && !s.exists(domain.EntityProduct, line.ProductID) {
			return domain.Order{}, fmt.Errorf("%w: product %d", ErrForeignKeyViolation, line.ProductID)
		}
	}

	order.ID = s.nextVal(seqOrder)
	if _, exists := s.orders[order.ID]; exists {
		return domain.Order{}, fmt.Errorf("%w: pedido %d", ErrDuplicateKey, order.ID)
	}
	s.orders[order.ID] = orderRow{
		ID:         order.ID,
		CustomerID: order.CustomerID,
		CreatedAt:  order.CreatedAt,
		Total:      order.Total,
	}
	for _, line := range order.Lines {
		key := lineKey{orderID: order.ID, productID: line.ProductID}
		if _, exists := s.lines[key]; exists {
			return domain.Order{}, fmt.Errorf("%w: pedido_producto (%d,%d)", ErrDuplicateKey, key.orderID, key.productID)
		}
		s.lines[key] = lineRow{Quantity: line.Quantity, Subtotal: line.Subtotal}
	}

	return r.Get(ctx, order.ID)
}

func (r orderRepository) Get(_ context.Context, id int64) (domain.Order, error) {
	row, ok := r.t.state.orders[id]
	if !ok {
		return domain.Order{}, domain.NewNotFound("order", id)
	}
	return r.assemble(row), nil
}

func (r orderRepository) List(context.Context) ([]domain.Order, error) {
	ids := sortedKeys(r.t.state.orders)
	result := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		result = append(result, r.assemble(r.t.state.orders[id]))
	}
	return result, nil
}

func (r orderRepository) assemble(row orderRow) domain.Order {
	s := r.t.state
	order := domain.Order{
		ID:           row.ID,
		CustomerID:   row.CustomerID,
		CreatedAt:    row.CreatedAt,
		Total:        row.Total,
		Lines:        s.orderLines(row.ID),
		CustomerName: s.customers[row.CustomerID].Name,
	}
	if inv, ok := s.invoiceFor(row.ID); ok {
		order.InvoiceID = inv.ID
	}
	return order
}

type invoiceRepository struct{ t *tx }

func (r invoiceRepository) Create(ctx context.Context, inv domain.Invoice) (domain.Invoice, error) {
	s := r.t.state
	if _, ok := s.orders[inv.OrderID]; !ok {
		return domain.Invoice{}, fmt.Errorf("%w: pedido %d", ErrForeignKeyViolation, inv.OrderID)
	}
	if _, invoiced := s.invoiceFor(inv.OrderID); invoiced {
		return domain.Invoice{}, domain.ErrAlreadyInvoiced
	}
	for _, existing := range s.invoices {
		if existing.Number == inv.Number {
			return domain.Invoice{}, fmt.Errorf("%w: %s", domain.ErrInvoiceNumberConflict, inv.Number)
		}
	}

	inv.ID = s.nextVal(seqInvoice)
	s.invoices[inv.ID] = invoiceRow{
		ID:       inv.ID,
		OrderID:  inv.OrderID,
		Number:   inv.Number,
		IssuedAt: inv.IssuedAt,
		Total:    inv.Total,
	}
	return r.Get(ctx, inv.ID)
}

func (r invoiceRepository) Get(_ context.Context, id int64) (domain.Invoice, error) {
	row, ok := r.t.state.invoices[id]
	if !ok {
		return domain.Invoice{}, domain.NewNotFound("invoice", id)
	}
	return r.assemble(row), nil
}

func (r invoiceRepository) List(context.Context) ([]domain.Invoice, error) {
	ids := sortedKeys(r.t.state.invoices)
	result := make([]domain.Invoice, 0, len(ids))
	for _, id := range ids {
		result = append(result, r.assemble(r.t.state.invoices[id]))
	}
	return result, nil
}

func (r invoiceRepository) CountByPrefix(_ context.Context, prefix string) (int64, error) {
	var count int64
	for _, inv := range r.t.state.invoices {
		if strings.HasPrefix(inv.Number, prefix) {
			count++
		}
	}
	return count, nil
}

func (r invoiceRepository) NextDaySequence(_ context.Context, day time.Time) (int64, error) {
	key := day.Format("2006-01-02")
	r.t.state.daySeq[key]++
	return r.t.state.daySeq[key], nil
}

func (r invoiceRepository) assemble(row invoiceRow) domain.Invoice {
	s := r.t.state
	order := s.orders[row.OrderID]
	return domain.Invoice{
		ID:           row.ID,
		OrderID:      row.OrderID,
		Number:       row.Number,
		IssuedAt:     row.IssuedAt,
		Total:        row.Total,
		CustomerName: s.customers[order.CustomerID].Name,
		Lines:        s.orderLines(row.OrderID),
	}
}
