package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
)

type customerRepository struct {
	q querier
}

func (r customerRepository) Create(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO customer (name, email)
		VALUES ($1, $2)
		RETURNING id
	`, customer.Name, customer.Email).Scan(&customer.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Customer{}, domain.ErrDuplicateEmail
		}
		return domain.Customer{}, fmt.Errorf("insert customer: %w", err)
	}
	return customer, nil
}

func (r customerRepository) Update(ctx context.Context, customer domain.Customer) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE customer
		SET name = $2, email = $3
		WHERE id = $1
	`, customer.ID, customer.Name, customer.Email)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateEmail
		}
		return fmt.Errorf("update customer: %w", err)
	}
	return affectedOne(res, "customer", customer.ID)
}

func (r customerRepository) Get(ctx context.Context, id int64) (domain.Customer, error) {
	var c domain.Customer
	err := r.q.QueryRowContext(ctx, `
		SELECT id, name, email FROM customer WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, domain.NewNotFound("customer", id)
		}
		return domain.Customer{}, fmt.Errorf("select customer: %w", err)
	}
	return c, nil
}

func (r customerRepository) GetByEmail(ctx context.Context, email string) (domain.Customer, error) {
	var c domain.Customer
	err := r.q.QueryRowContext(ctx, `
		SELECT id, name, email FROM customer WHERE email = $1
	`, email).Scan(&c.ID, &c.Name, &c.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, fmt.Errorf("customer with email %q: %w", email, domain.ErrNotFound)
		}
		return domain.Customer{}, fmt.Errorf("select customer by email: %w", err)
	}
	return c, nil
}

func (r customerRepository) List(ctx context.Context) ([]domain.Customer, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id, name, email FROM customer ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Email); err != nil {
			return nil, fmt.Errorf("scan customer row: %w", err)
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate customer rows: %w", err)
	}
	return customers, nil
}

func (r customerRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM customer WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrCustomerHasOrders
		}
		return fmt.Errorf("delete customer: %w", err)
	}
	return affectedOne(res, "customer", id)
}

func (r customerRepository) HasOrders(ctx context.Context, id int64) (bool, error) {
	var exists bool
	if err := r.q.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM pedido WHERE id_cliente = $1)
	`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check customer orders: %w", err)
	}
	return exists, nil
}

var _ domain.CustomerRepository = customerRepository{}
