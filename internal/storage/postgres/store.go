package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
)

const (
	pingTimeout = 5 * time.Second
	opTimeout   = 5 * time.Second
)

// errNotInitialized возвращается методами нулевого Store.
var errNotInitialized = errors.New("postgres store is not initialized")

// poolConfig хранит параметры пула database/sql.
type poolConfig struct {
	maxConns     int
	connLifetime time.Duration
	idleTime     time.Duration
}

// Option настраивает пул подключений при Open.
type Option func(*poolConfig)

// WithMaxConns ограничивает число открытых (и простаивающих) подключений; n <= 0 игнорируется.
func WithMaxConns(n int) Option {
	return func(c *poolConfig) {
		if n > 0 {
			c.maxConns = n
		}
	}
}

// WithConnLifetime задаёт, через сколько подключение пересоздаётся.
func WithConnLifetime(d time.Duration) Option {
	return func(c *poolConfig) {
		if d > 0 {
			c.connLifetime = d
		}
	}
}

// Store оборачивает SQL-подключение к PostgreSQL и открывает транзакции домена.
type Store struct {
	db *sql.DB
}

// Open подключается к PostgreSQL через pgx и ждёт ответа на ping.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	pool := poolConfig{maxConns: 25, connLifetime: 30 * time.Minute, idleTime: 5 * time.Minute}
	for _, opt := range opts {
		opt(&pool)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(pool.maxConns)
	db.SetMaxIdleConns(pool.maxConns)
	db.SetConnMaxLifetime(pool.connLifetime)
	db.SetConnMaxIdleTime(pool.idleTime)

	store := &Store{db: db}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return store, nil
}

func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	return nil
}

// NewStore оборачивает уже открытое подключение.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB возвращает raw SQL DB, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithinTx выполняет fn в транзакции READ COMMITTED. Ошибка fn или отмена ctx
// приводят к откату; при отложенных FK нарушение всплывает на коммите.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := s.ready(); err != nil {
		return err
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, newTx(sqlTx)); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("commit: %w: %w", domain.ErrConsistency, err)
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RestoreReferences пересоздаёт FK-ограничения kind вне транзакции.
// Уже существующее ограничение (42710) ошибкой не считается.
func (s *Store) RestoreReferences(ctx context.Context, kind domain.EntityKind) error {
	if err := s.ready(); err != nil {
		return err
	}
	ks, err := lookupKeyspace(kind)
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	for _, ref := range ks.refs {
		if _, err := s.db.ExecContext(opCtx, ref.addConstraintSQL(ks.table)); err != nil {
			if isDuplicateObject(err) {
				continue
			}
			return fmt.Errorf("add constraint %s: %w", ref.constraint, err)
		}
	}
	return nil
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// EnsureSchema применяет все up-миграции и возвращает FK-ограничения,
// если процесс упал между снятием и восстановлением при уплотнении.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.MigrateUp(ctx, 0); err != nil {
		return err
	}
	for _, kind := range []domain.EntityKind{domain.EntityCustomer, domain.EntityProduct} {
		if err := s.RestoreReferences(ctx, kind); err != nil {
			return fmt.Errorf("ensure %s references: %w", kind, err)
		}
	}
	return nil
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s.ready() != nil {
		return nil
	}
	return s.db.Close()
}

var _ domain.Store = (*Store)(nil)
