package sales

import (
	"context"
	"errors"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
)

// CreateCustomer регистрирует клиента и уплотняет нумерацию клиентов.
func (s *Service) CreateCustomer(ctx context.Context, name, email string) (domain.Customer, error) {
	customer := domain.Customer{Name: name, Email: email}
	customer.Normalize()
	if err := customer.Validate(); err != nil {
		return domain.Customer{}, err
	}

	err := s.inTx(ctx, func(ctx context.Context, uow *unitOfWork) error {
		if err := uow.lock(ctx, domain.EntityCustomer); err != nil {
			return err
		}
		if err := ensureEmailFree(ctx, uow, customer.Email); err != nil {
			return err
		}

		created, err := uow.Customers().Create(ctx, customer)
		if err != nil {
			return err
		}
		result, err := s.compact(ctx, uow, domain.EntityCustomer)
		if err != nil {
			return err
		}
		created.ID = result.Resolve(created.ID)
		customer = created

		return uow.emit(ctx, domain.AggregateCustomer, idString(created.ID), domain.EventCustomerCreated, newCustomerEvent(created))
	})
	if err != nil {
		return domain.Customer{}, err
	}
	return customer, nil
}

// UpdateCustomer меняет имя и email. Уникальность email проверяется, только если он изменился.
// Идентификаторы не меняются, уплотнение не запускается. Блокировка вида
// не даёт уплотнению перенумеровать клиента между чтением и записью.
func (s *Service) UpdateCustomer(ctx context.Context, id int64, name, email string) (domain.Customer, error) {
	customer := domain.Customer{ID: id, Name: name, Email: email}
	customer.Normalize()
	if err := customer.Validate(); err != nil {
		return domain.Customer{}, err
	}

	err := s.inTx(ctx, func(ctx context.Context, uow *unitOfWork) error {
		if err := uow.lock(ctx, domain.EntityCustomer); err != nil {
			return err
		}
		current, err := uow.Customers().Get(ctx, id)
		if err != nil {
			return err
		}
		if current.Email != customer.Email {
			if err := ensureEmailFree(ctx, uow, customer.Email); err != nil {
				return err
			}
		}
		if err := uow.Customers().Update(ctx, customer); err != nil {
			return err
		}
		return uow.emit(ctx, domain.AggregateCustomer, idString(id), domain.EventCustomerUpdated, newCustomerEvent(customer))
	})
	if err != nil {
		return domain.Customer{}, err
	}
	return customer, nil
}

// GetCustomer возвращает клиента по id.
func (s *Service) GetCustomer(ctx context.Context, id int64) (domain.Customer, error) {
	var customer domain.Customer
	err := s.inTx(ctx, func(ctx context.Context, uow *unitOfWork) error {
		var err error
		customer, err = uow.Customers().Get(ctx, id)
		return err
	})
	return customer, err
}

// ListCustomers возвращает всех клиентов по возрастанию id.
func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	var customers []domain.Customer
	err := s.inTx(ctx, func(ctx context.Context, uow *unitOfWork) error {
		var err error
		customers, err = uow.Customers().List(ctx)
		return err
	})
	return customers, err
}

// DeleteCustomer удаляет клиента без заказов и уплотняет нумерацию клиентов.
func (s *Service) DeleteCustomer(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(ctx context.Context, uow *unitOfWork) error {
		if err := uow.lock(ctx, domain.EntityCustomer); err != nil {
			return err
		}
		if _, err := uow.Customers().Get(ctx, id); err != nil {
			return err
		}
		hasOrders, err := uow.Customers().HasOrders(ctx, id)
		if err != nil {
			return err
		}
		if hasOrders {
			return domain.ErrCustomerHasOrders
		}

		if err := uow.Customers().Delete(ctx, id); err != nil {
			return err
		}
		if err := uow.emit(ctx, domain.AggregateCustomer, idString(id), domain.EventCustomerDeleted, deletedEvent{ID: id}); err != nil {
			return err
		}
		_, err = s.compact(ctx, uow, domain.EntityCustomer)
		return err
	})
}

func ensureEmailFree(ctx context.Context, uow *unitOfWork, email string) error {
	_, err := uow.Customers().GetByEmail(ctx, email)
	switch {
	case err == nil:
		return domain.ErrDuplicateEmail
	case errors.Is(err, domain.ErrNotFound):
		return nil
	default:
		return err
	}
}
