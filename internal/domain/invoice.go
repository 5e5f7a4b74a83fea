package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// DefaultInvoicePrefix используется, если префикс не настроен.
	DefaultInvoicePrefix = "FAC"
	// InvoiceDateLayout: дата в номере счёта (YYMMDD).
	InvoiceDateLayout = "060102"
	// MaxInvoiceSequence ограничивает число счетов за день.
	MaxInvoiceSequence = 9999
)

// Префикс не может содержать '-': это разделитель частей номера.
var invoicePrefixPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// ValidateInvoicePrefix проверяет, что номера с этим префиксом разберёт ParseInvoiceNumber.
func ValidateInvoicePrefix(prefix string) error {
	if !invoicePrefixPattern.MatchString(prefix) {
		return fmt.Errorf("invoice prefix %q must contain only letters and digits", prefix)
	}
	return nil
}

// Invoice представляет счёт, выставленный ровно по одному заказу.
type Invoice struct {
	ID       int64
	OrderID  int64
	Number   string
	IssuedAt time.Time
	// Total копируется из заказа в момент выставления.
	Total decimal.Decimal
	// CustomerName и Lines заполняются при чтении.
	CustomerName string
	Lines        []OrderLine
}

// InvoiceDayPrefix возвращает общий префикс номеров счетов за день, например "FAC-251123-".
func InvoiceDayPrefix(prefix string, day time.Time) string {
	return prefix + "-" + day.Format(InvoiceDateLayout) + "-"
}

// FormatInvoiceNumber собирает номер вида PREFIX-YYMMDD-NNNN.
func FormatInvoiceNumber(prefix string, day time.Time, seq int64) (string, error) {
	if seq < 1 || seq > MaxInvoiceSequence {
		return "", fmt.Errorf("%w: sequence %d", ErrInvoiceSequenceExhausted, seq)
	}
	return fmt.Sprintf("%s%04d", InvoiceDayPrefix(prefix, day), seq), nil
}

// ParseInvoiceNumber разбирает номер счёта на префикс, дату и порядковый номер.
func ParseInvoiceNumber(number string) (prefix string, day time.Time, seq int64, err error) {
	parts := strings.Split(number, "-")
	if len(parts) != 3 || parts[0] == "" || len(parts[2]) != 4 {
		return "", time.Time{}, 0, fmt.Errorf("malformed invoice number %q", number)
	}

	day, err = time.Parse(InvoiceDateLayout, parts[1])
	if err != nil {
		return "", time.Time{}, 0, fmt.Errorf("malformed invoice date in %q: %w", number, err)
	}
	seq, err = strconv.ParseInt(parts[2], 10, 64)
	if err != nil || seq < 1 {
		return "", time.Time{}, 0, fmt.Errorf("malformed invoice sequence in %q", number)
	}

	return parts[0], day, seq, nil
}
