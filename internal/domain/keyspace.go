package domain

import "context"

// EntityKind обозначает коллекцию сущностей с плотной нумерацией идентификаторов.
type EntityKind string

const (
	// EntityCustomer: на клиентов ссылается pedido.id_cliente.
	EntityCustomer EntityKind = "customer"
	// EntityProduct: на товары ссылается pedido_producto.id_prod.
	EntityProduct EntityKind = "product"
)

// Valid проверяет, что вид сущности поддерживает уплотнение.
func (k EntityKind) Valid() bool {
	switch k {
	case EntityCustomer, EntityProduct:
		return true
	default:
		return false
	}
}

// ParseEntityKind разбирает строковое имя вида сущности.
func ParseEntityKind(s string) (EntityKind, error) {
	kind := EntityKind(s)
	if !kind.Valid() {
		return "", ErrUnknownEntityKind
	}
	return kind, nil
}

// Keyspace даёт низкоуровневый доступ к первичным ключам и внешним ссылкам
// одного вида сущности. Все методы выполняются внутри транзакции Tx.
type Keyspace interface {
	// LockKind сериализует писателей одного вида сущности до конца транзакции.
	LockKind(ctx context.Context, kind EntityKind) error
	// ListIDs возвращает идентификаторы >= minID по возрастанию.
	ListIDs(ctx context.Context, kind EntityKind, minID int64) ([]int64, error)
	// DropReferences снимает FK-ограничения зависимых таблиц.
	DropReferences(ctx context.Context, kind EntityKind) error
	// DeferReferences откладывает проверку FK-ограничений до коммита.
	DeferReferences(ctx context.Context, kind EntityKind) error
	// RestoreReferences восстанавливает FK-ограничения зависимых таблиц.
	RestoreReferences(ctx context.Context, kind EntityKind) error
	// RekeyEntity меняет первичный ключ строки from на to.
	RekeyEntity(ctx context.Context, kind EntityKind, from, to int64) error
	// RekeyReferences переписывает внешние ключи from на to во всех зависимых таблицах.
	RekeyReferences(ctx context.Context, kind EntityKind, from, to int64) error
	// ResetSequence настраивает генератор так, чтобы следующий id был last+1.
	ResetSequence(ctx context.Context, kind EntityKind, last int64) error
}
