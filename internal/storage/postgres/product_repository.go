package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
)

type productRepository struct {
	q querier
}

func (r productRepository) Create(ctx context.Context, product domain.Product) (domain.Product, error) {
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO product (name, price)
		VALUES ($1, $2)
		RETURNING id
	`, product.Name, product.Price).Scan(&product.ID)
	if err != nil {
		return domain.Product{}, fmt.Errorf("insert product: %w", err)
	}
	return product, nil
}

func (r productRepository) Update(ctx context.Context, product domain.Product) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE product
		SET name = $2, price = $3
		WHERE id = $1
	`, product.ID, product.Name, product.Price)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	return affectedOne(res, "product", product.ID)
}

func (r productRepository) Get(ctx context.Context, id int64) (domain.Product, error) {
	var p domain.Product
	err := r.q.QueryRowContext(ctx, `
		SELECT id, name, price FROM product WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Price)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.NewNotFound("product", id)
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return p, nil
}

func (r productRepository) List(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id, name, price FROM product ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price); err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}
	return products, nil
}

func (r productRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM product WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrProductReferenced
		}
		return fmt.Errorf("delete product: %w", err)
	}
	return affectedOne(res, "product", id)
}

func (r productRepository) IsReferenced(ctx context.Context, id int64) (bool, error) {
	var exists bool
	if err := r.q.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM pedido_producto WHERE id_prod = $1)
	`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check product references: %w", err)
	}
	return exists, nil
}

var _ domain.ProductRepository = productRepository{}
