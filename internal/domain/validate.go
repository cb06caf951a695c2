package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var collectionRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

var validate = sync.OnceValue(func() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("collection", func(fl validator.FieldLevel) bool {
		return collectionRe.MatchString(fl.Field().String())
	})
	return v
})

// Validate runs the struct's validate tags and reports every failed field.
func Validate(s any) error {
	err := validate().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("validation failed: %s", strings.Join(fields, "; "))
}

// ValidCollectionID reports whether id may be used as a collection ID. IDs end
// up in cache keys and bus subjects, so only letters, digits, '-' and '_' are
// accepted.
func ValidCollectionID(id string) bool {
	return validate().Var(id, "collection") == nil
}

// Normalize accepts maturity in any case and trims the deck name.
func (i *Item) Normalize() {
	if m, ok := ParseMaturity(string(i.Maturity)); ok {
		i.Maturity = m
	}
	i.Deck = strings.TrimSpace(i.Deck)
}
