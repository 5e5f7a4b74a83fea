package postgres

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
)

// reference описывает внешний ключ зависимой таблицы на сущность.
type reference struct {
	table      string
	column     string
	constraint string
}

func (r reference) dropConstraintSQL() string {
	return fmt.Sprintf(`ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s`, r.table, r.constraint)
}

func (r reference) addConstraintSQL(target string) string {
	return fmt.Sprintf(
		`ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (id) DEFERRABLE INITIALLY IMMEDIATE`,
		r.table, r.constraint, r.column, target,
	)
}

// keyspaceSpec описывает таблицу сущности, её генератор id и входящие ссылки.
type keyspaceSpec struct {
	table    string
	sequence string
	lockKey  int64
	refs     []reference
}

var keyspaces = map[domain.EntityKind]keyspaceSpec{
	domain.EntityCustomer: {
		table:    "customer",
		sequence: "customer_id_seq",
		lockKey:  72610001,
		refs:     []reference{{table: "pedido", column: "id_cliente", constraint: "pedido_id_cliente_fkey"}},
	},
	domain.EntityProduct: {
		table:    "product",
		sequence: "product_id_seq",
		lockKey:  72610002,
		refs:     []reference{{table: "pedido_producto", column: "id_prod", constraint: "pedido_producto_id_prod_fkey"}},
	},
}

func lookupKeyspace(kind domain.EntityKind) (keyspaceSpec, error) {
	ks, ok := keyspaces[kind]
	if !ok {
		return keyspaceSpec{}, fmt.Errorf("%w: %q", domain.ErrUnknownEntityKind, kind)
	}
	return ks, nil
}

type keyspace struct {
	q querier
}

// LockKind берёт транзакционную advisory-блокировку вида сущности.
func (k keyspace) LockKind(ctx context.Context, kind domain.EntityKind) error {
	ks, err := lookupKeyspace(kind)
	if err != nil {
		return err
	}
	if _, err := k.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, ks.lockKey); err != nil {
		return fmt.Errorf("advisory lock %s: %w", kind, err)
	}
	return nil
}

func (k keyspace) ListIDs(ctx context.Context, kind domain.EntityKind, minID int64) ([]int64, error) {
	ks, err := lookupKeyspace(kind)
	if err != nil {
		return nil, err
	}

	rows, err := k.q.QueryContext(ctx, fmt.Sprintf(`SELECT id FROM %s WHERE id >= $1 ORDER BY id`, ks.table), minID)
	if err != nil {
		return nil, fmt.Errorf("list %s ids: %w", kind, err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s id: %w", kind, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s ids: %w", kind, err)
	}
	return ids, nil
}

func (k keyspace) DropReferences(ctx context.Context, kind domain.EntityKind) error {
	ks, err := lookupKeyspace(kind)
	if err != nil {
		return err
	}
	for _, ref := range ks.refs {
		if _, err := k.q.ExecContext(ctx, ref.dropConstraintSQL()); err != nil {
			return fmt.Errorf("drop constraint %s: %w", ref.constraint, err)
		}
	}
	return nil
}

func (k keyspace) DeferReferences(ctx context.Context, kind domain.EntityKind) error {
	ks, err := lookupKeyspace(kind)
	if err != nil {
		return err
	}
	for _, ref := range ks.refs {
		if _, err := k.q.ExecContext(ctx, fmt.Sprintf(`SET CONSTRAINTS %s DEFERRED`, ref.constraint)); err != nil {
			return fmt.Errorf("defer constraint %s: %w", ref.constraint, err)
		}
	}
	return nil
}

// RestoreReferences пересоздаёт ограничения; PostgreSQL заново проверяет все строки.
func (k keyspace) RestoreReferences(ctx context.Context, kind domain.EntityKind) error {
	ks, err := lookupKeyspace(kind)
	if err != nil {
		return err
	}
	for _, ref := range ks.refs {
		if _, err := k.q.ExecContext(ctx, ref.addConstraintSQL(ks.table)); err != nil {
			return fmt.Errorf("add constraint %s: %w", ref.constraint, err)
		}
	}
	return nil
}

func (k keyspace) RekeyEntity(ctx context.Context, kind domain.EntityKind, from, to int64) error {
	ks, err := lookupKeyspace(kind)
	if err != nil {
		return err
	}
	res, err := k.q.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET id = $2 WHERE id = $1`, ks.table), from, to)
	if err != nil {
		return fmt.Errorf("rekey %s %d: %w", kind, from, err)
	}
	return affectedOne(res, string(kind), from)
}

func (k keyspace) RekeyReferences(ctx context.Context, kind domain.EntityKind, from, to int64) error {
	ks, err := lookupKeyspace(kind)
	if err != nil {
		return err
	}
	for _, ref := range ks.refs {
		query := fmt.Sprintf(`UPDATE %s SET %s = $2 WHERE %s = $1`, ref.table, ref.column, ref.column)
		if _, err := k.q.ExecContext(ctx, query, from, to); err != nil {
			return fmt.Errorf("rekey %s.%s %d: %w", ref.table, ref.column, from, err)
		}
	}
	return nil
}

// ResetSequence выставляет генератор так, чтобы nextval вернул last+1.
func (k keyspace) ResetSequence(ctx context.Context, kind domain.EntityKind, last int64) error {
	ks, err := lookupKeyspace(kind)
	if err != nil {
		return err
	}

	if last <= 0 {
		_, err = k.q.ExecContext(ctx, `SELECT setval($1, 1, false)`, ks.sequence)
	} else {
		_, err = k.q.ExecContext(ctx, `SELECT setval($1, $2, true)`, ks.sequence, last)
	}
	if err != nil {
		return fmt.Errorf("reset %s: %w", ks.sequence, err)
	}
	return nil
}

var _ domain.Keyspace = keyspace{}
