package domain

import (
	"context"
	"time"
)

// CustomerRepository описывает требования к хранилищу клиентов.
type CustomerRepository interface {
	// Create сохраняет клиента с очередным id из генератора. ErrDuplicateEmail при повторе email.
	Create(ctx context.Context, customer Customer) (Customer, error)
	// Update меняет имя и email существующего клиента.
	Update(ctx context.Context, customer Customer) error
	Get(ctx context.Context, id int64) (Customer, error)
	GetByEmail(ctx context.Context, email string) (Customer, error)
	// List возвращает клиентов по возрастанию id.
	List(ctx context.Context) ([]Customer, error)
	Delete(ctx context.Context, id int64) error
	// HasOrders сообщает, есть ли заказы, ссылающиеся на клиента.
	HasOrders(ctx context.Context, id int64) (bool, error)
}

// ProductRepository описывает требования к хранилищу товаров.
type ProductRepository interface {
	Create(ctx context.Context, product Product) (Product, error)
	Update(ctx context.Context, product Product) error
	Get(ctx context.Context, id int64) (Product, error)
	List(ctx context.Context) ([]Product, error)
	Delete(ctx context.Context, id int64) error
	// IsReferenced сообщает, входит ли товар хотя бы в одну позицию заказа.
	IsReferenced(ctx context.Context, id int64) (bool, error)
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет заголовок и все позиции как одно целое и возвращает заказ с id.
	Create(ctx context.Context, order Order) (Order, error)
	// Get возвращает заказ с позициями и именами клиента/товаров.
	Get(ctx context.Context, id int64) (Order, error)
	List(ctx context.Context) ([]Order, error)
}

// InvoiceRepository описывает требования к хранилищу счетов.
type InvoiceRepository interface {
	// Create сохраняет счёт. ErrAlreadyInvoiced, если по заказу счёт уже есть,
	// ErrInvoiceNumberConflict при повторе номера.
	Create(ctx context.Context, invoice Invoice) (Invoice, error)
	Get(ctx context.Context, id int64) (Invoice, error)
	List(ctx context.Context) ([]Invoice, error)
	// CountByPrefix считает счета, номер которых начинается с prefix.
	CountByPrefix(ctx context.Context, prefix string) (int64, error)
	// NextDaySequence атомарно увеличивает счётчик дня и возвращает новое значение.
	NextDaySequence(ctx context.Context, day time.Time) (int64, error)
}

// Tx представляет единицу работы: все репозитории разделяют одну транзакцию.
type Tx interface {
	Customers() CustomerRepository
	Products() ProductRepository
	Orders() OrderRepository
	Invoices() InvoiceRepository
	Keyspace() Keyspace
	Outbox() OutboxWriter
}

// Store открывает транзакции над хранилищем.
type Store interface {
	// WithinTx выполняет fn в транзакции: коммит при nil, откат при ошибке или отмене ctx.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// RestoreReferences восстанавливает FK-ограничения вне транзакции (компенсация после отката).
	// Уже существующее ограничение не считается ошибкой.
	RestoreReferences(ctx context.Context, kind EntityKind) error
	// Ping проверяет доступность хранилища.
	Ping(ctx context.Context) error
}
