package sales

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
)

// CreateOrder собирает и сохраняет заказ клиента из позиций items.
func (s *Service) CreateOrder(ctx context.Context, customerID int64, items []domain.OrderItem) (domain.Order, error) {
	if err := checkItems(items); err != nil {
		return domain.Order{}, err
	}

	var order domain.Order
	err := s.inTx(ctx, func(ctx context.Context, uow *unitOfWork) error {
		// Заказ ссылается на обе нумерации: уплотнение не должно идти параллельно.
		if err := uow.lock(ctx, domain.EntityCustomer, domain.EntityProduct); err != nil {
			return err
		}
		var err error
		order, err = s.composer.Compose(ctx, uow, customerID, items)
		if err != nil {
			return err
		}
		return uow.emit(ctx, domain.AggregateOrder, idString(order.ID), domain.EventOrderCreated, newOrderEvent(order))
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.metrics.RecordOrderCreated(totalUnits(order))
	s.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"customer_id": order.CustomerID,
		"total":       order.Total.StringFixed(2),
	}).Debug("order created")
	return order, nil
}

// GetOrder возвращает заказ с позициями, именами клиента и товаров.
func (s *Service) GetOrder(ctx context.Context, id int64) (domain.Order, error) {
	var order domain.Order
	err := s.inTx(ctx, func(ctx context.Context, uow *unitOfWork) error {
		var err error
		order, err = uow.Orders().Get(ctx, id)
		return err
	})
	return order, err
}

// ListOrders возвращает все заказы по возрастанию id.
func (s *Service) ListOrders(ctx context.Context) ([]domain.Order, error) {
	var orders []domain.Order
	err := s.inTx(ctx, func(ctx context.Context, uow *unitOfWork) error {
		var err error
		orders, err = uow.Orders().List(ctx)
		return err
	})
	return orders, err
}

// IssueInvoice выставляет счёт по заказу, у которого счёта ещё нет.
func (s *Service) IssueInvoice(ctx context.Context, orderID int64) (domain.Invoice, error) {
	var invoice domain.Invoice
	err := s.inTx(ctx, func(ctx context.Context, uow *unitOfWork) error {
		order, err := uow.Orders().Get(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Invoiced() {
			return domain.ErrAlreadyInvoiced
		}

		now := s.now()
		number, err := s.numberer.Next(ctx, uow, now)
		if err != nil {
			return err
		}

		invoice, err = uow.Invoices().Create(ctx, domain.Invoice{
			OrderID:  order.ID,
			Number:   number,
			IssuedAt: now.UTC(),
			Total:    order.Total,
		})
		if err != nil {
			return err
		}
		return uow.emit(ctx, domain.AggregateInvoice, idString(invoice.ID), domain.EventInvoiceIssued, newInvoiceEvent(invoice))
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvoiceNumberConflict) {
			s.metrics.RecordInvoiceConflict()
			s.logger.WithError(err).WithField("order_id", orderID).Warn("invoice number collision")
		}
		return domain.Invoice{}, err
	}

	s.metrics.RecordInvoiceIssued()
	s.logger.WithFields(log.Fields{
		"order_id":   orderID,
		"invoice_id": invoice.ID,
		"number":     invoice.Number,
	}).Info("invoice issued")
	return invoice, nil
}

// GetInvoice возвращает счёт с позициями заказа и именем клиента.
func (s *Service) GetInvoice(ctx context.Context, id int64) (domain.Invoice, error) {
	var invoice domain.Invoice
	err := s.inTx(ctx, func(ctx context.Context, uow *unitOfWork) error {
		var err error
		invoice, err = uow.Invoices().Get(ctx, id)
		return err
	})
	return invoice, err
}

// ListInvoices возвращает все счета по возрастанию id.
func (s *Service) ListInvoices(ctx context.Context) ([]domain.Invoice, error) {
	var invoices []domain.Invoice
	err := s.inTx(ctx, func(ctx context.Context, uow *unitOfWork) error {
		var err error
		invoices, err = uow.Invoices().List(ctx)
		return err
	})
	return invoices, err
}
