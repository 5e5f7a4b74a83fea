package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
)

const orderSelect = `
	SELECT p.id, p.id_cliente, p.fecha, p.total, c.name, COALESCE(f.id, 0)
	FROM pedido p
	JOIN customer c ON c.id = p.id_cliente
	LEFT JOIN factura f ON f.id_pedido = p.id
`

type orderRepository struct {
	q querier
}

// Create сохраняет заголовок и позиции заказа в текущей транзакции.
func (r orderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO pedido (id_cliente, fecha, total)
		VALUES ($1, $2, $3)
		RETURNING id
	`, order.CustomerID, order.CreatedAt, order.Total).Scan(&order.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.Order{}, domain.NewNotFound("customer", order.CustomerID)
		}
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	for _, line := range order.Lines {
		if _, err := r.q.ExecContext(ctx, `
			INSERT INTO pedido_producto (id_pedido, id_prod, cantidad, subtotal)
			VALUES ($1, $2, $3, $4)
		`, order.ID, line.ProductID, line.Quantity, line.Subtotal); err != nil {
			switch {
			case isForeignKeyViolation(err):
				return domain.Order{}, domain.NewNotFound("product", line.ProductID)
			case isUniqueViolation(err):
				return domain.Order{}, domain.ErrDuplicateItem
			default:
				return domain.Order{}, fmt.Errorf("insert order line: %w", err)
			}
		}
	}

	return r.Get(ctx, order.ID)
}

func (r orderRepository) Get(ctx context.Context, id int64) (domain.Order, error) {
	var order domain.Order
	err := r.q.QueryRowContext(ctx, orderSelect+` WHERE p.id = $1`, id).Scan(
		&order.ID, &order.CustomerID, &order.CreatedAt, &order.Total, &order.CustomerName, &order.InvoiceID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.NewNotFound("order", id)
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	order.CreatedAt = order.CreatedAt.UTC()

	lines, err := loadLines(ctx, r.q, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Lines = lines
	return order, nil
}

func (r orderRepository) List(ctx context.Context) ([]domain.Order, error) {
	rows, err := r.q.QueryContext(ctx, orderSelect+` ORDER BY p.id`)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	orders := make([]domain.Order, 0)
	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(
			&order.ID, &order.CustomerID, &order.CreatedAt, &order.Total, &order.CustomerName, &order.InvoiceID,
		); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		order.CreatedAt = order.CreatedAt.UTC()
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	// Позиции читаются после закрытия курсора: транзакция держит одно соединение.
	_ = rows.Close()

	for i := range orders {
		lines, err := loadLines(ctx, r.q, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Lines = lines
	}
	return orders, nil
}

// loadLines возвращает позиции заказа с именами товаров по возрастанию id товара.
func loadLines(ctx context.Context, q querier, orderID int64) ([]domain.OrderLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT pp.id_prod, pp.cantidad, pp.subtotal, pr.name
		FROM pedido_producto pp
		JOIN product pr ON pr.id = pp.id_prod
		WHERE pp.id_pedido = $1
		ORDER BY pp.id_prod
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order lines: %w", err)
	}
	defer rows.Close()

	lines := make([]domain.OrderLine, 0)
	for rows.Next() {
		line := domain.OrderLine{OrderID: orderID}
		if err := rows.Scan(&line.ProductID, &line.Quantity, &line.Subtotal, &line.ProductName); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}
	return lines, nil
}

var _ domain.OrderRepository = orderRepository{}
