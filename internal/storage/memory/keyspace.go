package memory

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
)

// keyspace перенумеровывает строки в рабочей копии транзакции.
type keyspace struct{ t *tx }

// LockKind ничего не захватывает: Store уже держит единственного писателя.
func (k keyspace) LockKind(ctx context.Context, _ domain.EntityKind) error {
	return ctx.Err()
}

func (k keyspace) ListIDs(ctx context.Context, kind domain.EntityKind, minID int64) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all := k.t.state.ids(kind)
	ids := make([]int64, 0, len(all))
	for _, id := range all {
		if id >= minID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (k keyspace) DropReferences(_ context.Context, kind domain.EntityKind) error {
	k.t.state.detached[kind] = true
	return nil
}

func (k keyspace) DeferReferences(_ context.Context, kind domain.EntityKind) error {
	k.t.deferred[kind] = true
	return nil
}

func (k keyspace) RestoreReferences(_ context.Context, kind domain.EntityKind) error {
	if err := k.t.state.checkReferences(kind); err != nil {
		return err
	}
	delete(k.t.state.detached, kind)
	return nil
}

func (k keyspace) RekeyEntity(ctx context.Context, kind domain.EntityKind, from, to int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := k.t.state
	if !s.exists(kind, from) {
		return domain.NewNotFound(string(kind), from)
	}
	if s.exists(kind, to) {
		return fmt.Errorf("%w: %s %d", ErrDuplicateKey, kind, to)
	}
	if k.t.enforced(kind) && s.referenced(kind, from) {
		return fmt.Errorf("%w: %s %d is still referenced", ErrForeignKeyViolation, kind, from)
	}

	switch kind {
	case domain.EntityCustomer:
		c := s.customers[from]
		delete(s.customers, from)
		c.ID = to
		s.customers[to] = c
	case domain.EntityProduct:
		p := s.products[from]
		delete(s.products, from)
		p.ID = to
		s.products[to] = p
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownEntityKind, kind)
	}
	return nil
}

func (k keyspace) RekeyReferences(ctx context.Context, kind domain.EntityKind, from, to int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := k.t.state
	if k.t.enforced(kind) && s.referenced(kind, from) && !s.exists(kind, to) {
		return fmt.Errorf("%w: %s %d does not exist", ErrForeignKeyViolation, kind, to)
	}

	switch kind {
	case domain.EntityCustomer:
		for id, o := range s.orders {
			if o.CustomerID == from {
				o.CustomerID = to
				s.orders[id] = o
			}
		}
	case domain.EntityProduct:
		moved := make(map[lineKey]lineRow)
		for key, row := range s.lines {
			if key.productID == from {
				moved[lineKey{orderID: key.orderID, productID: to}] = row
				delete(s.lines, key)
			}
		}
		for key, row := range moved {
			if _, exists := s.lines[key]; exists {
				return fmt.Errorf("%w: pedido_producto (%d,%d)", ErrDuplicateKey, key.orderID, key.productID)
			}
			s.lines[key] = row
		}
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownEntityKind, kind)
	}
	return nil
}

// ResetSequence выставляет генератор так, чтобы следующий id был last+1.
func (k keyspace) ResetSequence(_ context.Context, kind domain.EntityKind, last int64) error {
	switch kind {
	case domain.EntityCustomer:
		k.t.state.sequences[seqCustomer] = last
	case domain.EntityProduct:
		k.t.state.sequences[seqProduct] = last
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownEntityKind, kind)
	}
	return nil
}

var _ domain.Keyspace = keyspace{}
