package memory

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
)

var (
	// ErrForeignKeyViolation означает ссылку на отсутствующую строку при включённом ограничении.
	ErrForeignKeyViolation = errors.New("foreign key violation")
	// ErrDuplicateKey означает, что первичный ключ уже занят.
	ErrDuplicateKey = errors.New("duplicate key")
)

// Имена генераторов идентификаторов.
const (
	seqCustomer = "customer"
	seqProduct  = "product"
	seqOrder    = "order"
	seqInvoice  = "invoice"
)

type orderRow struct {
	ID         int64
	CustomerID int64
	CreatedAt  time.Time
	Total      decimal.Decimal
}

type lineKey struct {
	orderID   int64
	productID int64
}

type lineRow struct {
	Quantity int32
	Subtotal decimal.Decimal
}

type invoiceRow struct {
	ID       int64
	OrderID  int64
	Number   string
	IssuedAt time.Time
	Total    decimal.Decimal
}

// state хранит снимок всех таблиц. Транзакция работает с копией и при коммите подменяет оригинал.
type state struct {
	customers map[int64]domain.Customer
	products  map[int64]domain.Product
	orders    map[int64]orderRow
	lines     map[lineKey]lineRow
	invoices  map[int64]invoiceRow
	// sequences хранит последнее выданное значение генератора.
	sequences map[string]int64
	// detached отмечает виды сущностей, FK на которые сняты.
	detached map[domain.EntityKind]bool
	daySeq   map[string]int64
}

func newState() *state {
	return &state{
		customers: make(map[int64]domain.Customer),
		products:  make(map[int64]domain.Product),
		orders:    make(map[int64]orderRow),
		lines:     make(map[lineKey]lineRow),
		invoices:  make(map[int64]invoiceRow),
		sequences: make(map[string]int64),
		detached:  make(map[domain.EntityKind]bool),
		daySeq:    make(map[string]int64),
	}
}

func (s *state) clone() *state {
	return &state{
		customers: maps.Clone(s.customers),
		products:  maps.Clone(s.products),
		orders:    maps.Clone(s.orders),
		lines:     maps.Clone(s.lines),
		invoices:  maps.Clone(s.invoices),
		sequences: maps.Clone(s.sequences),
		detached:  maps.Clone(s.detached),
		daySeq:    maps.Clone(s.daySeq),
	}
}

func (s *state) nextVal(seq string) int64 {
	s.sequences[seq]++
	return s.sequences[seq]
}

func (s *state) exists(kind domain.EntityKind, id int64) bool {
	switch kind {
	case domain.EntityCustomer:
		_, ok := s.customers[id]
		return ok
	case domain.EntityProduct:
		_, ok := s.products[id]
		return ok
	default:
		return false
	}
}

func (s *state) ids(kind domain.EntityKind) []int64 {
	var ids []int64
	switch kind {
	case domain.EntityCustomer:
		ids = sortedKeys(s.customers)
	case domain.EntityProduct:
		ids = sortedKeys(s.products)
	}
	return ids
}

// referenced сообщает, ссылается ли хотя бы одна зависимая строка на id.
func (s *state) referenced(kind domain.EntityKind, id int64) bool {
	switch kind {
	case domain.EntityCustomer:
		for _, o := range s.orders {
			if o.CustomerID == id {
				return true
			}
		}
	case domain.EntityProduct:
		for key := range s.lines {
			if key.productID == id {
				return true
			}
		}
	}
	return false
}

// checkReferences проверяет, что все внешние ключи на kind разрешаются.
func (s *state) checkReferences(kind domain.EntityKind) error {
	switch kind {
	case domain.EntityCustomer:
		for _, o := range s.orders {
			if _, ok := s.customers[o.CustomerID]; !ok {
				return fmt.Errorf("%w: pedido %d references customer %d", ErrForeignKeyViolation, o.ID, o.CustomerID)
			}
		}
	case domain.EntityProduct:
		for key := range s.lines {
			if _, ok := s.products[key.productID]; !ok {
				return fmt.Errorf("%w: pedido_producto (%d,%d) references product %d",
					ErrForeignKeyViolation, key.orderID, key.productID, key.productID)
			}
		}
	}
	return nil
}

func (s *state) orderLines(orderID int64) []domain.OrderLine {
	lines := make([]domain.OrderLine, 0)
	for key, row := range s.lines {
		if key.orderID != orderID {
			continue
		}
		lines = append(lines, domain.OrderLine{
			OrderID:     orderID,
			ProductID:   key.productID,
			Quantity:    row.Quantity,
			Subtotal:    row.Subtotal,
			ProductName: s.products[key.productID].Name,
		})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines
}

func (s *state) invoiceFor(orderID int64) (invoiceRow, bool) {
	for _, inv := range s.invoices {
		if inv.OrderID == orderID {
			return inv, true
		}
	}
	return invoiceRow{}, false
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
