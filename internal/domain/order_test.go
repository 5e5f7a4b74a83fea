package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
)

// helper для создания базового заказа с двумя позициями.
func makeOrder() domain.Order {
	return domain.Order{
		ID:         1,
		CustomerID: 1,
		CreatedAt:  time.Now().UTC(),
		Total:      decimal.RequireFromString("35.00"),
		Lines: []domain.OrderLine{
			{OrderID: 1, ProductID: 1, Quantity: 2, Subtotal: decimal.RequireFromString("20.00")},
			{OrderID: 1, ProductID: 2, Quantity: 3, Subtotal: decimal.RequireFromString("15.00")},
		},
	}
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
		want error
	}{
		{
			name: "no lines",
			mut: func(o *domain.Order) {
				o.Lines = nil
				o.Total = decimal.Zero
			},
			want: domain.ErrItemsRequired,
		},
		{
			name: "qty invalid",
			mut: func(o *domain.Order) {
				o.Lines[0].Quantity = 0
			},
			want: domain.ErrItemQtyInvalid,
		},
		{
			name: "duplicate product",
			mut: func(o *domain.Order) {
				o.Lines[1].ProductID = o.Lines[0].ProductID
			},
			want: domain.ErrDuplicateItem,
		},
		{
			name: "total mismatch",
			mut: func(o *domain.Order) {
				o.Total = decimal.RequireFromString("36.00")
			},
			want: domain.ErrTotalMismatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)

			errs := order.ValidateInvariants()
			if len(errs) == 0 {
				t.Fatalf("expected validation errors for case %s", tc.name)
			}
			if !errors.Is(errors.Join(errs...), tc.want) {
				t.Fatalf("expected %v among %v", tc.want, errs)
			}
		})
	}
}

func TestOrderLinesTotalIgnoresTrailingZeros(t *testing.T) {
	order := makeOrder()
	order.Total = decimal.RequireFromString("35")

	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("decimal comparison must be by value, got %v", errs)
	}
}

func TestInvoiceNumberRoundTrip(t *testing.T) {
	day := time.Date(2025, time.November, 23, 15, 4, 0, 0, time.UTC)

	number, err := domain.FormatInvoiceNumber(domain.DefaultInvoicePrefix, day, 1)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if number != "FAC-251123-0001" {
		t.Fatalf("unexpected number: %s", number)
	}

	prefix, parsedDay, seq, err := domain.ParseInvoiceNumber(number)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if prefix != "FAC" || seq != 1 || parsedDay.Format("2006-01-02") != "2025-11-23" {
		t.Fatalf("unexpected parse result: %s %s %d", prefix, parsedDay, seq)
	}
}

func TestFormatInvoiceNumber_Exhausted(t *testing.T) {
	_, err := domain.FormatInvoiceNumber("FAC", time.Now(), domain.MaxInvoiceSequence+1)
	if !errors.Is(err, domain.ErrInvoiceSequenceExhausted) {
		t.Fatalf("expected ErrInvoiceSequenceExhausted, got %v", err)
	}
}

func TestParseInvoiceNumber_Malformed(t *testing.T) {
	for _, number := range []string{"", "FAC-251123", "FAC-25112-0001", "FAC-251123-001", "FAC-251123-0000"} {
		if _, _, _, err := domain.ParseInvoiceNumber(number); err == nil {
			t.Errorf("expected error for %q", number)
		}
	}
}

func TestValidateInvoicePrefix(t *testing.T) {
	for _, prefix := range []string{"FAC", "FMX2", "f"} {
		if err := domain.ValidateInvoicePrefix(prefix); err != nil {
			t.Errorf("unexpected error for %q: %v", prefix, err)
		}
	}
	for _, prefix := range []string{"", "FAC-MX", "F%", "F_C", "FAC "} {
		if err := domain.ValidateInvoicePrefix(prefix); err == nil {
			t.Errorf("expected error for %q", prefix)
		}
	}
}
