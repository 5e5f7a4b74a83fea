package compaction

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
	"github.com/vladislavdragonenkov/salesmaster/internal/metrics"
	"github.com/vladislavdragonenkov/salesmaster/internal/storage/memory"
)

var errInjected = errors.New("injected failure")

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "compaction-test")
}

func newEngine(store domain.Store, opts ...Option) *Engine {
	opts = append([]Option{
		WithLogger(quietLogger()),
		WithMetrics(metrics.NewSalesMetricsWithRegisterer(prometheus.NewRegistry())),
	}, opts...)
	return NewEngine(store, opts...)
}

// faultyKeyspace срывает выбранную операцию, пропуская заданное число успешных вызовов.
type faultyKeyspace struct {
	domain.Keyspace
	failOn string
	skip   int
}

func (f *faultyKeyspace) hit(op string) error {
	if op != f.failOn {
		return nil
	}
	if f.skip > 0 {
		f.skip--
		return nil
	}
	return errInjected
}

func (f *faultyKeyspace) DropReferences(ctx context.Context, kind domain.EntityKind) error {
	if err := f.hit("drop"); err != nil {
		return err
	}
	return f.Keyspace.DropReferences(ctx, kind)
}

func (f *faultyKeyspace) RekeyEntity(ctx context.Context, kind domain.EntityKind, from, to int64) error {
	if err := f.hit("rekey"); err != nil {
		return err
	}
	return f.Keyspace.RekeyEntity(ctx, kind, from, to)
}

func (f *faultyKeyspace) RekeyReferences(ctx context.Context, kind domain.EntityKind, from, to int64) error {
	if err := f.hit("references"); err != nil {
		return err
	}
	return f.Keyspace.RekeyReferences(ctx, kind, from, to)
}

func (f *faultyKeyspace) RestoreReferences(ctx context.Context, kind domain.EntityKind) error {
	if err := f.hit("restore"); err != nil {
		return err
	}
	return f.Keyspace.RestoreReferences(ctx, kind)
}

func (f *faultyKeyspace) ResetSequence(ctx context.Context, kind domain.EntityKind, last int64) error {
	if err := f.hit("sequence"); err != nil {
		return err
	}
	return f.Keyspace.ResetSequence(ctx, kind, last)
}

type faultyTx struct {
	domain.Tx
	ks domain.Keyspace
}

func (t faultyTx) Keyspace() domain.Keyspace { return t.ks }

type fixture struct {
	store     *memory.Store
	customers []int64
	products  []int64
	orders    []int64
}

// newFixture создаёт клиентов и товары с дырами в нумерации и заказы, ссылающиеся на них.
func newFixture(t *testing.T) fixture {
	t.Helper()
	f := fixture{store: memory.NewStore()}

	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		names := []string{"Ana", "Beto", "Carla", "Dario", "Elena"}
		for i, name := range names {
			c, err := tx.Customers().Create(ctx, domain.Customer{Name: name, Email: name + "@example.com"})
			if err != nil {
				return err
			}
			if i%2 == 1 {
				if err := tx.Customers().Delete(ctx, c.ID); err != nil {
					return err
				}
				continue
			}
			f.customers = append(f.customers, c.ID)
		}

		for i, name := range []string{"Teclado", "Mouse", "Monitor", "Cable"} {
			p, err := tx.Products().Create(ctx, domain.Product{Name: name, Price: decimal.NewFromInt(int64(i + 1))})
			if err != nil {
				return err
			}
			if i == 0 {
				if err := tx.Products().Delete(ctx, p.ID); err != nil {
					return err
				}
				continue
			}
			f.products = append(f.products, p.ID)
		}

		for i, customerID := range f.customers {
			productID := f.products[i%len(f.products)]
			o, err := tx.Orders().Create(ctx, domain.Order{
				CustomerID: customerID,
				CreatedAt:  time.Now().UTC(),
				Total:      decimal.NewFromInt(2),
				Lines: []domain.OrderLine{
					{ProductID: productID, Quantity: 1, Subtotal: decimal.NewFromInt(2)},
				},
			})
			if err != nil {
				return err
			}
			f.orders = append(f.orders, o.ID)
		}
		return nil
	})
	require.NoError(t, err)
	return f
}

func (f fixture) snapshot(t *testing.T) ([]domain.Customer, []domain.Product, []domain.Order) {
	t.Helper()
	var (
		customers []domain.Customer
		products  []domain.Product
		orders    []domain.Order
	)
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		if customers, err = tx.Customers().List(ctx); err != nil {
			return err
		}
		if products, err = tx.Products().List(ctx); err != nil {
			return err
		}
		orders, err = tx.Orders().List(ctx)
		return err
	})
	require.NoError(t, err)
	return customers, products, orders
}

func (f fixture) compact(t *testing.T, engine *Engine, kind domain.EntityKind) (Result, error) {
	t.Helper()
	var result Result
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		result, err = engine.Compact(ctx, tx, kind)
		return err
	})
	return result, engine.Recover(context.Background(), err)
}

func TestCompact_DensifiesCustomersAndRewritesOrders(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, []int64{1, 3, 5}, f.customers)

	beforeCustomers, _, beforeOrders := f.snapshot(t)

	result, err := f.compact(t, newEngine(f.store), domain.EntityCustomer)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Count)
	assert.Equal(t, map[int64]int64{3: 2, 5: 3}, result.Remap)
	assert.True(t, result.Renumbered())

	customers, _, orders := f.snapshot(t)
	for i, c := range customers {
		assert.EqualValues(t, i+1, c.ID)
		// Атрибуты переезжают вместе со строкой.
		assert.Equal(t, beforeCustomers[i].Name, c.Name)
		assert.Equal(t, beforeCustomers[i].Email, c.Email)
	}

	for i, o := range orders {
		assert.Equal(t, result.Resolve(beforeOrders[i].CustomerID), o.CustomerID)
		assert.Equal(t, beforeOrders[i].CustomerName, o.CustomerName, "order must follow its customer")
	}

	err = f.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		c, err := tx.Customers().Create(ctx, domain.Customer{Name: "Fabio", Email: "fabio@example.com"})
		require.NoError(t, err)
		assert.EqualValues(t, 4, c.ID, "sequence continues from N+1")
		return nil
	})
	require.NoError(t, err)
}

func TestCompact_DensifiesProductsAndRewritesLines(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, []int64{2, 3, 4}, f.products)

	_, beforeProducts, beforeOrders := f.snapshot(t)

	result, err := f.compact(t, newEngine(f.store), domain.EntityProduct)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{2: 1, 3: 2, 4: 3}, result.Remap)

	_, products, orders := f.snapshot(t)
	require.Len(t, products, 3)
	for i, p := range products {
		assert.EqualValues(t, i+1, p.ID)
		assert.Equal(t, beforeProducts[i].Name, p.Name)
		assert.True(t, beforeProducts[i].Price.Equal(p.Price))
	}
	for i, o := range orders {
		require.Len(t, o.Lines, 1)
		assert.Equal(t, result.Resolve(beforeOrders[i].Lines[0].ProductID), o.Lines[0].ProductID)
		assert.Equal(t, beforeOrders[i].Lines[0].ProductName, o.Lines[0].ProductName)
		assert.True(t, beforeOrders[i].Lines[0].Subtotal.Equal(o.Lines[0].Subtotal))
	}
}

func TestCompact_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	engine := newEngine(f.store)

	_, err := f.compact(t, engine, domain.EntityCustomer)
	require.NoError(t, err)
	customers, _, orders := f.snapshot(t)

	result, err := f.compact(t, engine, domain.EntityCustomer)
	require.NoError(t, err)
	assert.Empty(t, result.Remap)
	assert.False(t, result.Renumbered())

	again, _, againOrders := f.snapshot(t)
	assert.Equal(t, customers, again)
	assert.Equal(t, orders, againOrders)
}

func TestCompact_EmptyTableResetsSequence(t *testing.T) {
	store := memory.NewStore()
	engine := newEngine(store)

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		p, err := tx.Products().Create(ctx, domain.Product{Name: "Mouse", Price: decimal.NewFromInt(1)})
		if err != nil {
			return err
		}
		if err := tx.Products().Delete(ctx, p.ID); err != nil {
			return err
		}
		result, err := engine.Compact(ctx, tx, domain.EntityProduct)
		if err != nil {
			return err
		}
		assert.Equal(t, 0, result.Count)

		next, err := tx.Products().Create(ctx, domain.Product{Name: "Cable", Price: decimal.NewFromInt(1)})
		if err != nil {
			return err
		}
		assert.EqualValues(t, 1, next.ID)
		return nil
	})
	require.NoError(t, err)
}

func TestCompact_DeferredMode(t *testing.T) {
	f := newFixture(t)
	engine := newEngine(f.store, WithDeferredConstraints())
	require.True(t, engine.Deferred())

	result, err := f.compact(t, engine, domain.EntityCustomer)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Count)
	assert.False(t, f.store.ConstraintsDetached(domain.EntityCustomer))

	customers, _, orders := f.snapshot(t)
	ids := make(map[int64]bool, len(customers))
	for _, c := range customers {
		ids[c.ID] = true
	}
	for _, o := range orders {
		assert.True(t, ids[o.CustomerID], "order %d points to missing customer %d", o.ID, o.CustomerID)
	}
}

func TestCompact_UnknownKind(t *testing.T) {
	store := memory.NewStore()
	engine := newEngine(store)

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		_, err := engine.Compact(ctx, tx, domain.EntityKind("pedido"))
		return err
	})
	require.ErrorIs(t, err, domain.ErrUnknownEntityKind)
	assert.False(t, errors.Is(err, domain.ErrConsistency))
}

func TestCompact_FailureRollsBackAndReportsStep(t *testing.T) {
	cases := []struct {
		name     string
		failOn   string
		skip     int
		wantStep string
	}{
		{name: "detach", failOn: "drop", wantStep: StepDetach},
		{name: "stage first row", failOn: "rekey", wantStep: StepStage},
		{name: "stage references", failOn: "references", skip: 1, wantStep: StepStage},
		{name: "finalize", failOn: "rekey", skip: 4, wantStep: StepFinalize},
		{name: "restore", failOn: "restore", wantStep: StepRestore},
		{name: "sequence", failOn: "sequence", wantStep: StepSequence},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			engine := newEngine(f.store)
			beforeCustomers, _, beforeOrders := f.snapshot(t)

			err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
				faulty := faultyTx{Tx: tx, ks: &faultyKeyspace{Keyspace: tx.Keyspace(), failOn: tc.failOn, skip: tc.skip}}
				_, err := engine.Compact(ctx, faulty, domain.EntityCustomer)
				return err
			})
			err = engine.Recover(context.Background(), err)

			require.ErrorIs(t, err, domain.ErrConsistency)
			require.ErrorIs(t, err, errInjected)

			var consistencyErr *domain.ConsistencyError
			require.ErrorAs(t, err, &consistencyErr)
			assert.Equal(t, tc.wantStep, consistencyErr.Step)
			assert.Equal(t, domain.EntityCustomer, consistencyErr.Kind)

			customers, _, orders := f.snapshot(t)
			assert.Equal(t, beforeCustomers, customers, "failed pass must not leave partial renumbering")
			assert.Equal(t, beforeOrders, orders)
			assert.False(t, f.store.ConstraintsDetached(domain.EntityCustomer))
		})
	}
}

func TestCompact_OffsetGuard(t *testing.T) {
	store := memory.NewStore()
	engine := newEngine(store)

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Customers().Create(ctx, domain.Customer{Name: "Ana", Email: "ana@example.com"}); err != nil {
			return err
		}
		ks := tx.Keyspace()
		if err := ks.RekeyEntity(ctx, domain.EntityCustomer, 1, StagingOffset); err != nil {
			return err
		}
		_, err := engine.Compact(ctx, tx, domain.EntityCustomer)
		return err
	})

	var consistencyErr *domain.ConsistencyError
	require.ErrorAs(t, err, &consistencyErr)
	assert.Equal(t, StepStage, consistencyErr.Step)
}

func TestRestore_ReattachesDetachedConstraints(t *testing.T) {
	f := newFixture(t)
	engine := newEngine(f.store)

	// Хранилище без транзакционного DDL: снятое ограничение переживает коммит.
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return tx.Keyspace().DropReferences(ctx, domain.EntityProduct)
	})
	require.NoError(t, err)
	require.True(t, f.store.ConstraintsDetached(domain.EntityProduct))

	recovered := engine.Recover(context.Background(), &domain.ConsistencyError{
		Kind: domain.EntityProduct, Step: StepStage, Err: errInjected,
	})
	require.ErrorIs(t, recovered, errInjected)
	assert.False(t, f.store.ConstraintsDetached(domain.EntityProduct))
}

func TestRecover_PassesThroughOtherErrors(t *testing.T) {
	engine := newEngine(memory.NewStore())

	assert.NoError(t, engine.Recover(context.Background(), nil))
	assert.Equal(t, errInjected, engine.Recover(context.Background(), errInjected))
}

func TestResultResolve(t *testing.T) {
	result := Result{Remap: map[int64]int64{3: 2}}
	assert.EqualValues(t, 2, result.Resolve(3))
	assert.EqualValues(t, 1, result.Resolve(1))
}
