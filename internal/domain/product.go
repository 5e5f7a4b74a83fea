package domain

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// MinProductPrice задаёт минимальную цену товара.
	MinProductPrice = decimal.RequireFromString("0.01")
	// MaxProductPrice задаёт максимальную цену товара.
	MaxProductPrice = decimal.RequireFromString("100000.00")
)

// Product описывает товар каталога. ID живёт в собственном плотном диапазоне 1..N.
type Product struct {
	ID    int64
	Name  string          `validate:"required,person_name"`
	Price decimal.Decimal `validate:"-"`
}

// Normalize убирает пробелы в имени. Цена не округляется: лишние знаки отклоняет Validate.
func (p *Product) Normalize() {
	p.Name = strings.TrimSpace(p.Name)
}

// Validate проверяет имя, диапазон цены и её точность.
func (p Product) Validate() error {
	var errs []error
	if err := validateStruct(p); err != nil {
		errs = append(errs, err)
	}
	if p.Price.LessThan(MinProductPrice) || p.Price.GreaterThan(MaxProductPrice) {
		errs = append(errs, ErrPriceOutOfRange)
	}
	if !p.Price.Equal(p.Price.Truncate(2)) {
		errs = append(errs, ErrPricePrecision)
	}
	return errors.Join(errs...)
}
