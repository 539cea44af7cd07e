package validation

import (
	"fmt"
	"net/mail"
	"net/url"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/apigate/gatewayd/internal/models"
	"github.com/google/uuid"
)

// maxDepth bounds schema recursion so a self-referential schema cannot
// blow the stack.
const maxDepth = 32

// FieldError reports the first rule a payload broke. The gateway maps
// it onto a 400 response.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: %s", e.Field, e.Reason)
}

func fieldErr(field, format string, args ...interface{}) *FieldError {
	return &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// CustomFunc checks a value under a named rule registered at startup.
type CustomFunc func(value interface{}) error

// Validator evaluates validation trees against decoded payloads. It is
// stateless apart from the custom rule table and safe for concurrent use
// once custom rules are registered.
type Validator struct {
	custom map[string]CustomFunc

	mu       sync.RWMutex
	patterns map[string]*regexp.Regexp
}

func New() *Validator {
	return &Validator{
		custom:   map[string]CustomFunc{},
		patterns: map[string]*regexp.Regexp{},
	}
}

// RegisterCustom installs a named rule. Call before serving traffic.
func (v *Validator) RegisterCustom(name string, fn CustomFunc) {
	v.custom[name] = fn
}

// Validate walks the schema against the payload and returns the first
// violation. Fields absent from the payload pass unless marked required.
func (v *Validator) Validate(schema map[string]*FieldValidationAlias, payload map[string]interface{}) error {
	for _, field := range sortedKeys(schema) {
		rule := schema[field]
		if rule == nil {
			continue
		}
		value, present := lookup(payload, field)
		if !present {
			if rule.Required {
				return fieldErr(field, "required field is missing")
			}
			continue
		}
		if err := v.check(field, rule, value, 0); err != nil {
			return err
		}
	}
	return nil
}

// FieldValidationAlias keeps call sites short inside this package.
type FieldValidationAlias = models.FieldValidation

func (v *Validator) check(field string, rule *FieldValidationAlias, value interface{}, depth int) error {
	if depth > maxDepth {
		return fieldErr(field, "schema nesting exceeds limit")
	}
	if value == nil {
		if rule.Required {
			return fieldErr(field, "required field is null")
		}
		return nil
	}

	if rule.Type != "" {
		if err := v.checkType(field, rule, value, depth); err != nil {
			return err
		}
	}
	if len(rule.Enum) > 0 {
		if err := checkEnum(field, rule.Enum, value); err != nil {
			return err
		}
	}
	if rule.Format != "" {
		if err := checkFormat(field, rule.Format, value); err != nil {
			return err
		}
	}
	if rule.CustomValidator != "" {
		fn, ok := v.custom[rule.CustomValidator]
		if !ok {
			return fieldErr(field, "unknown custom validator %q", rule.CustomValidator)
		}
		if err := fn(value); err != nil {
			return fieldErr(field, "%s", err.Error())
		}
	}
	return nil
}

func (v *Validator) checkType(field string, rule *FieldValidationAlias, value interface{}, depth int) error {
	switch rule.Type {
	case models.TypeString:
		s, ok := value.(string)
		if !ok {
			return fieldErr(field, "expected string, got %s", typeName(value))
		}
		length := float64(len(s))
		if rule.Min != nil && length < *rule.Min {
			return fieldErr(field, "length %d below minimum %v", len(s), *rule.Min)
		}
		if rule.Max != nil && length > *rule.Max {
			return fieldErr(field, "length %d above maximum %v", len(s), *rule.Max)
		}
		if rule.Pattern != "" {
			re, err := v.pattern(rule.Pattern)
			if err != nil {
				return fieldErr(field, "invalid pattern: %s", err.Error())
			}
			if !re.MatchString(s) {
				return fieldErr(field, "value does not match pattern %s", rule.Pattern)
			}
		}
	case models.TypeNumber:
		n, ok := toNumber(value)
		if !ok {
			return fieldErr(field, "expected number, got %s", typeName(value))
		}
		if rule.Min != nil && n < *rule.Min {
			return fieldErr(field, "value %v below minimum %v", n, *rule.Min)
		}
		if rule.Max != nil && n > *rule.Max {
			return fieldErr(field, "value %v above maximum %v", n, *rule.Max)
		}
	case models.TypeBoolean:
		if _, ok := value.(bool); !ok {
			return fieldErr(field, "expected boolean, got %s", typeName(value))
		}
	case models.TypeArray:
		items, ok := value.([]interface{})
		if !ok {
			return fieldErr(field, "expected array, got %s", typeName(value))
		}
		length := float64(len(items))
		if rule.Min != nil && length < *rule.Min {
			return fieldErr(field, "array size %d below minimum %v", len(items), *rule.Min)
		}
		if rule.Max != nil && length > *rule.Max {
			return fieldErr(field, "array size %d above maximum %v", len(items), *rule.Max)
		}
		if rule.ArrayItems != nil {
			for i, item := range items {
				itemField := fmt.Sprintf("%s[%d]", field, i)
				if err := v.check(itemField, rule.ArrayItems, item, depth+1); err != nil {
					return err
				}
			}
		}
	case models.TypeObject:
		obj, ok := value.(map[string]interface{})
		if !ok {
			return fieldErr(field, "expected object, got %s", typeName(value))
		}
		for _, child := range sortedKeys(rule.NestedSchema) {
			childRule := rule.NestedSchema[child]
			if childRule == nil {
				continue
			}
			childField := field + "." + child
			childValue, present := lookup(obj, child)
			if !present {
				if childRule.Required {
					return fieldErr(childField, "required field is missing")
				}
				continue
			}
			if err := v.check(childField, childRule, childValue, depth+1); err != nil {
				return err
			}
		}
	default:
		return fieldErr(field, "unknown type %q in schema", rule.Type)
	}
	return nil
}

func (v *Validator) pattern(expr string) (*regexp.Regexp, error) {
	v.mu.RLock()
	re, ok := v.patterns[expr]
	v.mu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.patterns[expr] = re
	v.mu.Unlock()
	return re, nil
}

func checkEnum(field string, enum []interface{}, value interface{}) error {
	for _, allowed := range enum {
		if reflect.DeepEqual(allowed, value) {
			return nil
		}
		an, aok := toNumber(allowed)
		vn, vok := toNumber(value)
		if aok && vok && an == vn {
			return nil
		}
	}
	return fieldErr(field, "value not in allowed set")
}

func checkFormat(field, format string, value interface{}) error {
	s, ok := value.(string)
	if !ok {
		return fieldErr(field, "format %q requires a string value", format)
	}
	switch format {
	case "email":
		if _, err := mail.ParseAddress(s); err != nil {
			return fieldErr(field, "invalid email address")
		}
	case "url":
		u, err := url.Parse(s)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fieldErr(field, "invalid url")
		}
	case "date":
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return fieldErr(field, "invalid date, expected YYYY-MM-DD")
		}
	case "datetime":
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return fieldErr(field, "invalid datetime, expected RFC3339")
		}
	case "uuid":
		if _, err := uuid.Parse(s); err != nil {
			return fieldErr(field, "invalid uuid")
		}
	default:
		return fieldErr(field, "unknown format %q in schema", format)
	}
	return nil
}

// lookup resolves a dotted path with optional [n] indices against a
// decoded payload: "user.age", "items[0].price".
func lookup(payload map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = payload
	for _, segment := range strings.Split(path, ".") {
		name, indices, err := splitIndices(segment)
		if err != nil {
			return nil, false
		}
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = obj[name]
		if !ok {
			return nil, false
		}
		for _, idx := range indices {
			items, ok := current.([]interface{})
			if !ok || idx < 0 || idx >= len(items) {
				return nil, false
			}
			current = items[idx]
		}
	}
	return current, true
}

func splitIndices(segment string) (string, []int, error) {
	open := strings.IndexByte(segment, '[')
	if open < 0 {
		return segment, nil, nil
	}
	name := segment[:open]
	var indices []int
	rest := segment[open:]
	for rest != "" {
		if rest[0] != '[' {
			return "", nil, fmt.Errorf("malformed path segment %q", segment)
		}
		closeIdx := strings.IndexByte(rest, ']')
		if closeIdx < 0 {
			return "", nil, fmt.Errorf("malformed path segment %q", segment)
		}
		idx, err := strconv.Atoi(rest[1:closeIdx])
		if err != nil {
			return "", nil, err
		}
		indices = append(indices, idx)
		rest = rest[closeIdx+1:]
	}
	return name, indices, nil
}

func toNumber(value interface{}) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func typeName(value interface{}) string {
	switch value.(type) {
	case string:
		return "string"
	case float64, float32, int, int32, int64, uint32, uint64:
		return "number"
	case bool:
		return "boolean"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	case nil:
		return "null"
	}
	return reflect.TypeOf(value).String()
}

func sortedKeys(m map[string]*FieldValidationAlias) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Deterministic order keeps the reported first error stable.
	sort.Strings(keys)
	return keys
}
