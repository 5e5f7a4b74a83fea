package domain

import "strings"

// Customer описывает покупателя. ID всегда лежит в плотном диапазоне 1..N.
type Customer struct {
	ID    int64
	Name  string `validate:"required,person_name"`
	Email string `validate:"required,email,max=100"`
}

// Normalize убирает пробелы по краям полей.
func (c *Customer) Normalize() {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.TrimSpace(c.Email)
}

// Validate проверяет формат имени и email.
func (c Customer) Validate() error {
	return validateStruct(c)
}
