package sales

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
)

// NumberingMode определяет способ выдачи порядкового номера счёта за день.
type NumberingMode string

const (
	// NumberingCount считает уже выданные за день номера. Параллельные выдачи могут
	// получить одинаковый номер; второй отсекается уникальным индексом.
	NumberingCount NumberingMode = "count"
	// NumberingStrict берёт номер из счётчика дня, который сериализует выдачу.
	NumberingStrict NumberingMode = "strict"
)

// ParseNumberingMode разбирает режим нумерации; пустая строка означает count.
func ParseNumberingMode(s string) (NumberingMode, error) {
	switch mode := NumberingMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case "", NumberingCount:
		return NumberingCount, nil
	case NumberingStrict:
		return NumberingStrict, nil
	default:
		return "", fmt.Errorf("unsupported invoice numbering mode %q", s)
	}
}

// InvoiceNumberer выдаёт номера вида PREFIX-YYMMDD-NNNN.
type InvoiceNumberer struct {
	mode     NumberingMode
	prefix   string
	location *time.Location
}

// NewInvoiceNumberer создаёт нумератор. Дата номера берётся в часовом поясе loc.
func NewInvoiceNumberer(mode NumberingMode, prefix string, loc *time.Location) *InvoiceNumberer {
	if mode == "" {
		mode = NumberingCount
	}
	if prefix == "" {
		prefix = domain.DefaultInvoicePrefix
	}
	if loc == nil {
		loc = time.UTC
	}
	return &InvoiceNumberer{mode: mode, prefix: prefix, location: loc}
}

// Mode возвращает режим нумерации.
func (n *InvoiceNumberer) Mode() NumberingMode {
	return n.mode
}

// Next вычисляет номер очередного счёта дня now в рамках tx.
func (n *InvoiceNumberer) Next(ctx context.Context, tx domain.Tx, now time.Time) (string, error) {
	day := now.In(n.location)

	var (
		seq int64
		err error
	)
	switch n.mode {
	case NumberingStrict:
		seq, err = tx.Invoices().NextDaySequence(ctx, day)
		if err != nil {
			return "", fmt.Errorf("next invoice sequence: %w", err)
		}
	default:
		issued, countErr := tx.Invoices().CountByPrefix(ctx, domain.InvoiceDayPrefix(n.prefix, day))
		if countErr != nil {
			return "", fmt.Errorf("count invoices of the day: %w", countErr)
		}
		seq = issued + 1
	}

	return domain.FormatInvoiceNumber(n.prefix, day, seq)
}
