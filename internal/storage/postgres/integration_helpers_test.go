package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

// testDSNEnv указывает на отдельную базу: тесты очищают все таблицы.
const testDSNEnv = "SALES_POSTGRES_TEST_DSN"

// openPostgresStoreForIntegrationTest возвращает хранилище с актуальной схемой и пустыми таблицами.
func openPostgresStoreForIntegrationTest(t *testing.T) *Store {
	t.Helper()

	store := openRawPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if _, err := store.DB().ExecContext(ctx, `
		TRUNCATE TABLE outbox_messages, invoice_sequence, factura, pedido_producto, pedido, product, customer
		RESTART IDENTITY CASCADE
	`); err != nil {
		t.Fatalf("truncate sales tables: %v", err)
	}
	return store
}

// openRawPostgresStoreForIntegrationTest подключается без миграций или пропускает тест,
// если SALES_POSTGRES_TEST_DSN не задан или база недоступна.
func openRawPostgresStoreForIntegrationTest(t *testing.T) *Store {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv(testDSNEnv))
	if dsn == "" {
		t.Skipf("%s is not set, skipping postgres integration test", testDSNEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	store, err := Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres is not available for integration tests: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
