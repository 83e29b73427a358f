// Package validate evaluates validation rules kept as plain data: each rule
// names a field, a predicate written in validator tag syntax, and the message
// returned when the predicate fails.
package validate

import (
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"classifieds-catalog/internal/domain"
)

// Rule is one field check. Tag uses go-playground/validator syntax, for example
// "notblank,max=200" or "gte=0".
type Rule struct {
	Field   string
	Tag     string
	Message string
}

// Rules is an ordered rule set; the first failing rule wins.
type Rules []Rule

var (
	once     sync.Once
	instance *validator.Validate
)

func engine() *validator.Validate {
	once.Do(func() {
		instance = validator.New()
		// validator ships notblank outside the default set
		_ = instance.RegisterValidation("notblank", validators.NotBlank)
	})
	return instance
}

// Check evaluates the rules against values, keyed by Rule.Field. Rules whose
// field is absent from values are skipped, which lets patch operations check
// only the fields they carry.
func (rs Rules) Check(values map[string]any) error {
	v := engine()
	for _, r := range rs {
		value, ok := values[r.Field]
		if !ok {
			continue
		}
		if err := v.Var(value, r.Tag); err != nil {
			return domain.Validationf("%s", r.Message)
		}
	}
	return nil
}
