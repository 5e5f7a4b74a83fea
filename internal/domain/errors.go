package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound означает ссылку на несуществующую сущность.
	ErrNotFound = errors.New("not found")
	// ErrValidation означает нарушение бизнес-правила, исправимое вызывающей стороной.
	ErrValidation = errors.New("validation failed")
	// ErrConsistency означает сбой многошагового уплотнения идентификаторов.
	ErrConsistency = errors.New("consistency failure")
	// ErrOutboxPublish означает, что сообщение outbox не найдено или не может быть обновлено.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// validationError задаёт именованное бизнес-правило. Сравнивается по указателю,
// но при этом удовлетворяет errors.Is(err, ErrValidation).
type validationError struct {
	msg string
}

func newValidationError(msg string) error {
	return &validationError{msg: msg}
}

func (e *validationError) Error() string { return e.msg }

func (e *validationError) Is(target error) bool { return target == ErrValidation }

var (
	// Ошибка повторного email у клиента.
	ErrDuplicateEmail = newValidationError("customer email already registered")
	// Ошибка некорректного имени клиента или товара.
	ErrNameInvalid = newValidationError("name must contain 2-80 letters, spaces, apostrophes or hyphens")
	// Ошибка некорректного email.
	ErrEmailInvalid = newValidationError("email must be a valid address up to 100 characters")
	// Ошибка цены товара вне допустимого диапазона.
	ErrPriceOutOfRange = newValidationError("price must be between 0.01 and 100000.00")
	// Цена задаётся с точностью до копеек.
	ErrPricePrecision = newValidationError("price must have at most 2 decimal places")
	// Клиента нельзя удалить, пока у него есть заказы.
	ErrCustomerHasOrders = newValidationError("customer has orders and cannot be deleted")
	// Товар нельзя удалить, пока он входит в заказы.
	ErrProductReferenced = newValidationError("product is referenced by orders and cannot be deleted")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = newValidationError("order must contain at least one item")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = newValidationError("item quantity must be at least 1")
	// Один товар может входить в заказ только одной позицией.
	ErrDuplicateItem = newValidationError("product appears more than once in order")
	// Превышен лимит единиц товара в одном заказе.
	ErrOrderUnitsLimit = newValidationError("order exceeds units limit")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrTotalMismatch = newValidationError("order total does not match lines sum")
	// По заказу уже выставлен счёт.
	ErrAlreadyInvoiced = newValidationError("order already invoiced")
	// Номер счёта уже занят параллельной выдачей; запрос можно повторить.
	ErrInvoiceNumberConflict = newValidationError("invoice number already taken")
	// Дневная последовательность номеров счетов исчерпана.
	ErrInvoiceSequenceExhausted = newValidationError("daily invoice sequence exhausted")
	// Неизвестный вид сущности для уплотнения.
	ErrUnknownEntityKind = newValidationError("unknown entity kind")
)

// NotFoundError называет вид сущности и отсутствующий идентификатор.
type NotFoundError struct {
	Entity string
	ID     int64
}

// NewNotFound создаёт ошибку отсутствия сущности.
func NewNotFound(entity string, id int64) error {
	return &NotFoundError{Entity: entity, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: id=%d", e.Entity, e.ID)
}

// Is позволяет сравнивать с ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConsistencyError описывает шаг уплотнения, на котором произошёл сбой.
type ConsistencyError struct {
	Kind EntityKind
	Step string
	Err  error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("compact %s ids: %s: %v", e.Kind, e.Step, e.Err)
}

func (e *ConsistencyError) Unwrap() error { return e.Err }

// Is позволяет сравнивать с ErrConsistency.
func (e *ConsistencyError) Is(target error) bool { return target == ErrConsistency }

// IsNotFound проверяет, относится ли ошибка к отсутствующей сущности.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation проверяет, является ли ошибка нарушением бизнес-правила.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
