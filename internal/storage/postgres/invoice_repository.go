package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
)

const (
	constraintInvoiceOrder  = "factura_id_pedido_key"
	constraintInvoiceNumber = "factura_nro_key"

	invoiceSelect = `
		SELECT f.id, f.id_pedido, f.nro, f.fecha, f.total, c.name
		FROM factura f
		JOIN pedido p ON p.id = f.id_pedido
		JOIN customer c ON c.id = p.id_cliente
	`
)

type invoiceRepository struct {
	q querier
}

func (r invoiceRepository) Create(ctx context.Context, inv domain.Invoice) (domain.Invoice, error) {
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO factura (id_pedido, nro, fecha, total)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, inv.OrderID, inv.Number, inv.IssuedAt, inv.Total).Scan(&inv.ID)
	if err != nil {
		switch {
		case violatedConstraint(err) == constraintInvoiceOrder:
			return domain.Invoice{}, domain.ErrAlreadyInvoiced
		case violatedConstraint(err) == constraintInvoiceNumber:
			return domain.Invoice{}, fmt.Errorf("%w: %s", domain.ErrInvoiceNumberConflict, inv.Number)
		case isForeignKeyViolation(err):
			return domain.Invoice{}, domain.NewNotFound("order", inv.OrderID)
		default:
			return domain.Invoice{}, fmt.Errorf("insert invoice: %w", err)
		}
	}
	return r.Get(ctx, inv.ID)
}

func (r invoiceRepository) Get(ctx context.Context, id int64) (domain.Invoice, error) {
	var inv domain.Invoice
	err := r.q.QueryRowContext(ctx, invoiceSelect+` WHERE f.id = $1`, id).Scan(
		&inv.ID, &inv.OrderID, &inv.Number, &inv.IssuedAt, &inv.Total, &inv.CustomerName,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Invoice{}, domain.NewNotFound("invoice", id)
		}
		return domain.Invoice{}, fmt.Errorf("select invoice: %w", err)
	}
	inv.IssuedAt = inv.IssuedAt.UTC()

	lines, err := loadLines(ctx, r.q, inv.OrderID)
	if err != nil {
		return domain.Invoice{}, err
	}
	inv.Lines = lines
	return inv, nil
}

func (r invoiceRepository) List(ctx context.Context) ([]domain.Invoice, error) {
	rows, err := r.q.QueryContext(ctx, invoiceSelect+` ORDER BY f.id`)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}

	invoices := make([]domain.Invoice, 0)
	for rows.Next() {
		var inv domain.Invoice
		if err := rows.Scan(&inv.ID, &inv.OrderID, &inv.Number, &inv.IssuedAt, &inv.Total, &inv.CustomerName); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan invoice row: %w", err)
		}
		inv.IssuedAt = inv.IssuedAt.UTC()
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate invoice rows: %w", err)
	}
	_ = rows.Close()

	for i := range invoices {
		lines, err := loadLines(ctx, r.q, invoices[i].OrderID)
		if err != nil {
			return nil, err
		}
		invoices[i].Lines = lines
	}
	return invoices, nil
}

func (r invoiceRepository) CountByPrefix(ctx context.Context, prefix string) (int64, error) {
	var count int64
	if err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM factura WHERE starts_with(nro, $1)
	`, prefix).Scan(&count); err != nil {
		return 0, fmt.Errorf("count invoices by prefix: %w", err)
	}
	return count, nil
}

// NextDaySequence увеличивает счётчик дня; строка счётчика держит блокировку до конца транзакции.
func (r invoiceRepository) NextDaySequence(ctx context.Context, day time.Time) (int64, error) {
	var seq int64
	if err := r.q.QueryRowContext(ctx, `
		INSERT INTO invoice_sequence (day, last_value)
		VALUES ($1::date, 1)
		ON CONFLICT (day) DO UPDATE
		SET last_value = invoice_sequence.last_value + 1
		RETURNING last_value
	`, day.Format(time.DateOnly)).Scan(&seq); err != nil {
		return 0, fmt.Errorf("advance invoice sequence: %w", err)
	}
	return seq, nil
}

var _ domain.InvoiceRepository = invoiceRepository{}
