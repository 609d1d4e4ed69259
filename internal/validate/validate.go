// Package validate checks raw request input against declarative schemas.
//
// A Schema is plain data: a list of per-field rules. Check reports every
// failing field, not just the first, and Decode only produces a typed value
// once the whole input has passed.
package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/mmynk/blueledger/internal/apperr"
)

// Type is the JSON type a field must have.
type Type string

const (
	String     Type = "string"
	Number     Type = "number"
	Integer    Type = "integer"
	Bool       Type = "bool"
	StringList Type = "string_list"
)

// Format is an additional string format constraint.
type Format string

const (
	FormatNone  Format = ""
	FormatEmail Format = "email"
	FormatID    Format = "id"
)

// Rule names reported in field errors.
const (
	RuleJSON     = "json"
	RuleRequired = "required"
	RuleType     = "type"
	RuleMin      = "min"
	RuleMax      = "max"
	RuleFormat   = "format"
)

// Rule constrains one field. Min and Max bound string length in runes,
// numeric value, or list length depending on Type.
type Rule struct {
	Field    string
	Type     Type
	Required bool
	Min      *float64
	Max      *float64
	Format   Format
}

// Schema is the full rule set for one kind of request.
type Schema struct {
	Name  string
	Rules []Rule

	// Refine runs cross-field checks once every field rule has passed.
	Refine func(values map[string]any) []apperr.FieldError
}

// Bound is a helper for building Min and Max.
func Bound(v float64) *float64 {
	return &v
}

// Errors is the list of failing fields for one input.
type Errors []apperr.FieldError

func (e Errors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Field + " " + fe.Message
	}
	return strings.Join(parts, "; ")
}

// Fields returns the failing field names in order.
func (e Errors) Fields() []string {
	names := make([]string, len(e))
	for i, fe := range e {
		names[i] = fe.Field
	}
	return names
}

// Check validates raw against schema and returns the normalized values of the
// declared fields. Undeclared fields are dropped.
func Check(schema Schema, raw map[string]any) (map[string]any, Errors) {
	var errs Errors
	values := make(map[string]any, len(schema.Rules))

	for _, rule := range schema.Rules {
		v, present := raw[rule.Field]
		if !present || v == nil {
			if rule.Required {
				errs = append(errs, fieldError(rule.Field, RuleRequired, "is required"))
			}
			continue
		}

		normalized, fieldErrs := checkField(rule, v)
		if len(fieldErrs) > 0 {
			errs = append(errs, fieldErrs...)
			continue
		}
		values[rule.Field] = normalized
	}

	if len(errs) == 0 && schema.Refine != nil {
		errs = append(errs, schema.Refine(values)...)
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return values, nil
}

// Decode reads a JSON object from body, validates it against schema and
// decodes the result into T. An empty body is treated as an empty object.
func Decode[T any](schema Schema, body io.Reader) (T, error) {
	var zero T

	raw := map[string]any{}
	dec := json.NewDecoder(body)
	dec.UseNumber()
	err := dec.Decode(&raw)
	if err == nil {
		// Exactly one value; anything after it is malformed.
		if trailing := dec.Decode(&struct{}{}); !errors.Is(trailing, io.EOF) {
			err = errors.New("trailing data after JSON object")
		}
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return zero, apperr.Validation("malformed JSON body",
			fieldError("body", RuleJSON, "must be a JSON object"))
	}

	return DecodeMap[T](schema, raw)
}

// DecodeMap validates an already parsed object and decodes it into T.
func DecodeMap[T any](schema Schema, raw map[string]any) (T, error) {
	var zero T

	values, errs := Check(schema, raw)
	if len(errs) > 0 {
		return zero, apperr.Validation("invalid "+schema.Name, errs...)
	}

	encoded, err := json.Marshal(values)
	if err != nil {
		return zero, fmt.Errorf("failed to encode %s: %w", schema.Name, err)
	}
	var out T
	dec := json.NewDecoder(bytes.NewReader(encoded))
	if err := dec.Decode(&out); err != nil {
		return zero, fmt.Errorf("failed to decode %s: %w", schema.Name, err)
	}
	return out, nil
}

func checkField(rule Rule, v any) (any, Errors) {
	switch rule.Type {
	case String:
		s, ok := v.(string)
		if !ok {
			return nil, Errors{fieldError(rule.Field, RuleType, "must be a string")}
		}
		errs := checkBounds(rule, float64(utf8.RuneCountInString(s)), "characters")
		if rule.Format != FormatNone && !matchesFormat(rule.Format, s) {
			errs = append(errs, formatError(rule.Field, rule.Format))
		}
		return s, errs

	case Number, Integer:
		f, ok := toFloat(v)
		if !ok {
			return nil, Errors{fieldError(rule.Field, RuleType, "must be a number")}
		}
		if rule.Type == Integer {
			if f != math.Trunc(f) {
				return nil, Errors{fieldError(rule.Field, RuleType, "must be an integer")}
			}
			// Stored and decoded as int, which may be 32 bits wide.
			if f > math.MaxInt32 {
				return nil, Errors{fieldError(rule.Field, RuleMax, "is out of range")}
			}
			if f < math.MinInt32 {
				return nil, Errors{fieldError(rule.Field, RuleMin, "is out of range")}
			}
			return int64(f), checkBounds(rule, f, "")
		}
		return f, checkBounds(rule, f, "")

	case Bool:
		b, ok := v.(bool)
		if !ok {
			return nil, Errors{fieldError(rule.Field, RuleType, "must be a boolean")}
		}
		return b, nil

	case StringList:
		items, ok := v.([]any)
		if !ok {
			return nil, Errors{fieldError(rule.Field, RuleType, "must be a list of strings")}
		}
		list := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, Errors{fieldError(rule.Field, RuleType, "must be a list of strings")}
			}
			if rule.Format != FormatNone && !matchesFormat(rule.Format, s) {
				return nil, Errors{formatError(rule.Field, rule.Format)}
			}
			list = append(list, s)
		}
		return list, checkBounds(rule, float64(len(list)), "items")
	}

	return nil, Errors{fieldError(rule.Field, RuleType, "has an unsupported type")}
}

func checkBounds(rule Rule, n float64, unit string) Errors {
	var errs Errors
	suffix := ""
	if unit != "" {
		suffix = " " + unit
	}
	if rule.Min != nil && n < *rule.Min {
		errs = append(errs, fieldError(rule.Field, RuleMin,
			fmt.Sprintf("must be at least %s%s", formatBound(*rule.Min), suffix)))
	}
	if rule.Max != nil && n > *rule.Max {
		errs = append(errs, fieldError(rule.Field, RuleMax,
			fmt.Sprintf("must be at most %s%s", formatBound(*rule.Max), suffix)))
	}
	return errs
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func matchesFormat(format Format, s string) bool {
	switch format {
	case FormatEmail:
		addr, err := mail.ParseAddress(s)
		return err == nil && addr.Address == s
	case FormatID:
		return IsID(s)
	}
	return true
}

// IsID reports whether s is a well-formed entity identifier.
func IsID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil && len(s) == 36
}

func formatError(field string, format Format) apperr.FieldError {
	switch format {
	case FormatEmail:
		return fieldError(field, RuleFormat, "must be a valid email address")
	case FormatID:
		return fieldError(field, RuleFormat, "must be a valid id")
	}
	return fieldError(field, RuleFormat, "has an invalid format")
}

func formatBound(f float64) string {
	if f == math.Trunc(f) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

func fieldError(field, rule, message string) apperr.FieldError {
	return apperr.FieldError{Field: field, Rule: rule, Message: message}
}
