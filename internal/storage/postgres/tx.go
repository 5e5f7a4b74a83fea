package postgres

import (
	"context"
	"database/sql"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
)

// querier покрывает общее подмножество *sql.DB и *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// tx связывает репозитории с одной SQL-транзакцией.
type tx struct {
	q querier
}

func newTx(sqlTx *sql.Tx) *tx {
	return &tx{q: sqlTx}
}

func (t *tx) Customers() domain.CustomerRepository { return customerRepository{q: t.q} }
func (t *tx) Products() domain.ProductRepository   { return productRepository{q: t.q} }
func (t *tx) Orders() domain.OrderRepository       { return orderRepository{q: t.q} }
func (t *tx) Invoices() domain.InvoiceRepository   { return invoiceRepository{q: t.q} }
func (t *tx) Keyspace() domain.Keyspace            { return keyspace{q: t.q} }
func (t *tx) Outbox() domain.OutboxWriter          { return outboxWriter{q: t.q} }

// affectedOne проверяет, что запрос затронул строку; иначе возвращает NotFound.
func affectedOne(res sql.Result, entity string, id int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.NewNotFound(entity, id)
	}
	return nil
}

var _ domain.Tx = (*tx)(nil)
