package sales

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
)

// CreateProduct добавляет товар в каталог и уплотняет нумерацию товаров.
func (s *Service) CreateProduct(ctx context.Context, name string, price decimal.Decimal) (domain.Product, error) {
	product := domain.Product{Name: name, Price: price}
	product.Normalize()
	if err := product.Validate(); err != nil {
		return domain.Product{}, err
	}

	err := s.inTx(ctx, func(ctx context.Context, uow *unitOfWork) error {
		if err := uow.lock(ctx, domain.EntityProduct); err != nil {
			return err
		}
		created, err := uow.Products().Create(ctx, product)
		if err != nil {
			return err
		}
		result, err := s.compact(ctx, uow, domain.EntityProduct)
		if err != nil {
			return err
		}
		created.ID = result.Resolve(created.ID)
		product = created

		return uow.emit(ctx, domain.AggregateProduct, idString(created.ID), domain.EventProductCreated, newProductEvent(created))
	})
	if err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

// UpdateProduct меняет имя и цену. Подытоги существующих заказов не пересчитываются.
func (s *Service) UpdateProduct(ctx context.Context, id int64, name string, price decimal.Decimal) (domain.Product, error) {
	product := domain.Product{ID: id, Name: name, Price: price}
	product.Normalize()
	if err := product.Validate(); err != nil {
		return domain.Product{}, err
	}

	err := s.inTx(ctx, func(ctx context.Context, uow *unitOfWork) error {
		if err := uow.lock(ctx, domain.EntityProduct); err != nil {
			return err
		}
		if _, err := uow.Products().Get(ctx, id); err != nil {
			return err
		}
		if err := uow.Products().Update(ctx, product); err != nil {
			return err
		}
		return uow.emit(ctx, domain.AggregateProduct, idString(id), domain.EventProductUpdated, newProductEvent(product))
	})
	if err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

// GetProduct возвращает товар по id.
func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	var product domain.Product
	err := s.inTx(ctx, func(ctx context.Context, uow *unitOfWork) error {
		var err error
		product, err = uow.Products().Get(ctx, id)
		return err
	})
	return product, err
}

// ListProducts возвращает каталог по возрастанию id.
func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var products []domain.Product
	err := s.inTx(ctx, func(ctx context.Context, uow *unitOfWork) error {
		var err error
		products, err = uow.Products().List(ctx)
		return err
	})
	return products, err
}

// DeleteProduct удаляет товар, не входящий ни в один заказ, и уплотняет нумерацию товаров.
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(ctx context.Context, uow *unitOfWork) error {
		if err := uow.lock(ctx, domain.EntityProduct); err != nil {
			return err
		}
		if _, err := uow.Products().Get(ctx, id); err != nil {
			return err
		}
		referenced, err := uow.Products().IsReferenced(ctx, id)
		if err != nil {
			return err
		}
		if referenced {
			return domain.ErrProductReferenced
		}

		if err := uow.Products().Delete(ctx, id); err != nil {
			return err
		}
		if err := uow.emit(ctx, domain.AggregateProduct, idString(id), domain.EventProductDeleted, deletedEvent{ID: id}); err != nil {
			return err
		}
		_, err = s.compact(ctx, uow, domain.EntityProduct)
		return err
	})
}
