package dto

import (
	"reflect"
	"regexp"
	"strings"

	"deposit-ledger/internal/core/domain"
	"deposit-ledger/pkg/lamports"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var safeStringRe = regexp.MustCompile(`^[a-zA-Z0-9_\-\.]+$`)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("safe_id", validateSafeID)
		_ = v.RegisterValidation("entry_category", validateEntryCategory)
		_ = v.RegisterValidation("sol_amount", validateSOLAmount)
	}
}

// validateSafeID allows alphanumeric, underscore, dash, and dot.
func validateSafeID(fl validator.FieldLevel) bool {
	return safeStringRe.MatchString(fl.Field().String())
}

func validateEntryCategory(fl validator.FieldLevel) bool {
	return domain.EntryCategory(fl.Field().String()).Valid()
}

// validateSOLAmount accepts a positive decimal SOL amount with at most 9 places.
func validateSOLAmount(fl validator.FieldLevel) bool {
	n, err := lamports.FromSOL(fl.Field().String())
	return err == nil && n > 0
}

// SanitizeStruct trims whitespace of every exported string field
// (including *string) of a struct pointer.
func SanitizeStruct(v interface{}) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return
	}
	sanitizeFields(rv.Elem())
}

func sanitizeFields(rv reflect.Value) {
	for i := 0; i < rv.NumField(); i++ {
		f := rv.Field(i)
		if !f.CanSet() {
			continue
		}
		switch f.Kind() {
		case reflect.String:
			f.SetString(strings.TrimSpace(f.String()))
		case reflect.Ptr:
			if f.IsNil() {
				continue
			}
			if elem := f.Elem(); elem.Kind() == reflect.String {
				elem.SetString(strings.TrimSpace(elem.String()))
			}
		}
	}
}
