// Package tools implements the Tool Registry & Executor (spec.md §4.8):
// schema-validated dispatch, permission-tier gating, caching, and privacy
// wrapping for external calls. Grounded on
// original_source/backend/tools/{registry,executor,file_tools}.py.
package tools

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// fieldError is one field-level validation failure.
type fieldError struct {
	Field   string
	Message string
}

// Validate walks v (a pointer to a struct) applying
// `validate:"required,min=N,max=N"` tags on its fields. This stands in for
// the pydantic model_validate the original uses: no struct-tag validation
// library appears anywhere in the example pack, so this single concern is
// hand-rolled against spec.md §4.8's "schema validation failed" contract
// (see DESIGN.md for the full justification).
func Validate(v any) []fieldError {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}
	rt := rv.Type()

	var errs []fieldError
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		tag := field.Tag.Get("validate")
		if tag == "" {
			continue
		}
		fv := rv.Field(i)
		name := jsonFieldName(field)

		for _, rule := range strings.Split(tag, ",") {
			switch {
			case rule == "required":
				if fv.IsZero() {
					errs = append(errs, fieldError{name, "required"})
				}
			case strings.HasPrefix(rule, "min="):
				n, _ := strconv.Atoi(strings.TrimPrefix(rule, "min="))
				if !checkBound(fv, n, true) {
					errs = append(errs, fieldError{name, fmt.Sprintf("must be >= %d", n)})
				}
			case strings.HasPrefix(rule, "max="):
				n, _ := strconv.Atoi(strings.TrimPrefix(rule, "max="))
				if !checkBound(fv, n, false) {
					errs = append(errs, fieldError{name, fmt.Sprintf("must be <= %d", n)})
				}
			}
		}
	}

	sort.Slice(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
	return errs
}

func checkBound(fv reflect.Value, n int, isMin bool) bool {
	switch fv.Kind() {
	case reflect.String:
		l := len(fv.String())
		if isMin {
			return l >= n
		}
		return l <= n
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v := int(fv.Int())
		if isMin {
			return v >= n
		}
		return v <= n
	case reflect.Slice, reflect.Array:
		l := fv.Len()
		if isMin {
			return l >= n
		}
		return l <= n
	default:
		return true
	}
}

func jsonFieldName(field reflect.StructField) string {
	tag := field.Tag.Get("json")
	if tag == "" || tag == "-" {
		return field.Name
	}
	if idx := strings.Index(tag, ","); idx >= 0 {
		tag = tag[:idx]
	}
	if tag == "" {
		return field.Name
	}
	return tag
}
