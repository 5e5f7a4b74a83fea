package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// Имя: буквы (включая испанские), пробелы, апостроф и дефис, от 2 до 80 символов.
var personNamePattern = regexp.MustCompile(`^[a-zA-ZáéíóúÁÉÍÓÚñÑüÜ\s'-]{2,80}$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Регистрация встроенного правила не может завершиться ошибкой.
		_ = validate.RegisterValidation("person_name", func(fl validator.FieldLevel) bool {
			return ValidName(fl.Field().String())
		})
	})
	return validate
}

// ValidName проверяет имя клиента или товара.
func ValidName(name string) bool {
	if utf8.RuneCountInString(strings.TrimSpace(name)) < 2 {
		return false
	}
	return personNamePattern.MatchString(name)
}

// validateStruct прогоняет теги validate и сводит ошибки полей к доменным.
func validateStruct(v any) error {
	err := structValidator().Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate %T: %w", v, err)
	}

	errs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Field() {
		case "Name":
			errs = append(errs, ErrNameInvalid)
		case "Email":
			errs = append(errs, ErrEmailInvalid)
		default:
			errs = append(errs, fmt.Errorf("%w: field %s violates %s", ErrValidation, fe.Field(), fe.Tag()))
		}
	}
	return errors.Join(errs...)
}
