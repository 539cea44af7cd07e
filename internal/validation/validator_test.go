package validation

import (
	"errors"
	"testing"

	"github.com/apigate/gatewayd/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(f float64) *float64 { return &f }

func TestValidate_NestedNumberBounds(t *testing.T) {
	v := New()
	schema := map[string]*models.FieldValidation{
		"user": {
			Required: true,
			Type:     models.TypeObject,
			NestedSchema: map[string]*models.FieldValidation{
				"age": {Required: true, Type: models.TypeNumber, Min: floatPtr(0), Max: floatPtr(150)},
			},
		},
	}

	err := v.Validate(schema, map[string]interface{}{
		"user": map[string]interface{}{"age": float64(30)},
	})
	assert.NoError(t, err)

	err = v.Validate(schema, map[string]interface{}{
		"user": map[string]interface{}{"age": float64(200)},
	})
	require.Error(t, err)
	var fieldErr *FieldError
	require.True(t, errors.As(err, &fieldErr))
	assert.Equal(t, "user.age", fieldErr.Field)
}

func TestValidate_DottedPathLookup(t *testing.T) {
	v := New()
	schema := map[string]*models.FieldValidation{
		"user.age": {Required: true, Type: models.TypeNumber, Min: floatPtr(18)},
	}

	assert.NoError(t, v.Validate(schema, map[string]interface{}{
		"user": map[string]interface{}{"age": float64(21)},
	}))
	assert.Error(t, v.Validate(schema, map[string]interface{}{
		"user": map[string]interface{}{"age": float64(12)},
	}))
}

func TestValidate_AbsentOptionalFieldPasses(t *testing.T) {
	v := New()
	schema := map[string]*models.FieldValidation{
		"nickname": {Type: models.TypeString, Min: floatPtr(3)},
	}

	assert.NoError(t, v.Validate(schema, map[string]interface{}{}))
}

func TestValidate_RequiredFieldMissing(t *testing.T) {
	v := New()
	schema := map[string]*models.FieldValidation{
		"name": {Required: true, Type: models.TypeString},
	}

	err := v.Validate(schema, map[string]interface{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required")
}

func TestValidate_StringRules(t *testing.T) {
	v := New()

	tests := []struct {
		name    string
		rule    *models.FieldValidation
		value   interface{}
		wantErr bool
	}{
		{name: "length in range", rule: &models.FieldValidation{Type: models.TypeString, Min: floatPtr(2), Max: floatPtr(5)}, value: "abc"},
		{name: "too short", rule: &models.FieldValidation{Type: models.TypeString, Min: floatPtr(2)}, value: "a", wantErr: true},
		{name: "too long", rule: &models.FieldValidation{Type: models.TypeString, Max: floatPtr(3)}, value: "abcdef", wantErr: true},
		{name: "pattern match", rule: &models.FieldValidation{Type: models.TypeString, Pattern: `^[A-Z]{2}\d{4}$`}, value: "AB1234"},
		{name: "pattern mismatch", rule: &models.FieldValidation{Type: models.TypeString, Pattern: `^[A-Z]{2}\d{4}$`}, value: "xx1234", wantErr: true},
		{name: "wrong type", rule: &models.FieldValidation{Type: models.TypeString}, value: float64(7), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(map[string]*models.FieldValidation{"field": tt.rule},
				map[string]interface{}{"field": tt.value})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_EnumAndFormat(t *testing.T) {
	v := New()

	tests := []struct {
		name    string
		rule    *models.FieldValidation
		value   interface{}
		wantErr bool
	}{
		{name: "enum hit", rule: &models.FieldValidation{Type: models.TypeString, Enum: []interface{}{"red", "blue"}}, value: "red"},
		{name: "enum miss", rule: &models.FieldValidation{Type: models.TypeString, Enum: []interface{}{"red", "blue"}}, value: "green", wantErr: true},
		{name: "numeric enum", rule: &models.FieldValidation{Type: models.TypeNumber, Enum: []interface{}{float64(1), float64(2)}}, value: float64(2)},
		{name: "valid email", rule: &models.FieldValidation{Type: models.TypeString, Format: "email"}, value: "a@example.com"},
		{name: "invalid email", rule: &models.FieldValidation{Type: models.TypeString, Format: "email"}, value: "not-an-email", wantErr: true},
		{name: "valid date", rule: &models.FieldValidation{Type: models.TypeString, Format: "date"}, value: "2024-02-29"},
		{name: "invalid date", rule: &models.FieldValidation{Type: models.TypeString, Format: "date"}, value: "2024-13-01", wantErr: true},
		{name: "valid datetime", rule: &models.FieldValidation{Type: models.TypeString, Format: "datetime"}, value: "2024-01-02T15:04:05Z"},
		{name: "valid uuid", rule: &models.FieldValidation{Type: models.TypeString, Format: "uuid"}, value: "49f41b6d-4f29-4c59-9712-2c91a41f1f14"},
		{name: "invalid uuid", rule: &models.FieldValidation{Type: models.TypeString, Format: "uuid"}, value: "nope", wantErr: true},
		{name: "valid url", rule: &models.FieldValidation{Type: models.TypeString, Format: "url"}, value: "https://example.com/x"},
		{name: "invalid url", rule: &models.FieldValidation{Type: models.TypeString, Format: "url"}, value: "://broken", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(map[string]*models.FieldValidation{"field": tt.rule},
				map[string]interface{}{"field": tt.value})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_ArrayItems(t *testing.T) {
	v := New()
	schema := map[string]*models.FieldValidation{
		"tags": {
			Type: models.TypeArray,
			Min:  floatPtr(1),
			Max:  floatPtr(3),
			ArrayItems: &models.FieldValidation{
				Type: models.TypeString,
				Min:  floatPtr(2),
			},
		},
	}

	assert.NoError(t, v.Validate(schema, map[string]interface{}{
		"tags": []interface{}{"go", "api"},
	}))

	err := v.Validate(schema, map[string]interface{}{
		"tags": []interface{}{"go", "x"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tags[1]")

	assert.Error(t, v.Validate(schema, map[string]interface{}{
		"tags": []interface{}{},
	}))
}

func TestValidate_CustomValidator(t *testing.T) {
	v := New()
	v.RegisterCustom("even", func(value interface{}) error {
		n, ok := value.(float64)
		if !ok || int(n)%2 != 0 {
			return errors.New("value must be even")
		}
		return nil
	})
	schema := map[string]*models.FieldValidation{
		"count": {Type: models.TypeNumber, CustomValidator: "even"},
	}

	assert.NoError(t, v.Validate(schema, map[string]interface{}{"count": float64(4)}))
	assert.Error(t, v.Validate(schema, map[string]interface{}{"count": float64(3)}))

	unknown := map[string]*models.FieldValidation{
		"count": {Type: models.TypeNumber, CustomValidator: "missing"},
	}
	assert.Error(t, v.Validate(unknown, map[string]interface{}{"count": float64(4)}))
}

func TestValidate_IndexedPath(t *testing.T) {
	v := New()
	schema := map[string]*models.FieldValidation{
		"items[0].price": {Required: true, Type: models.TypeNumber, Min: floatPtr(0)},
	}

	assert.NoError(t, v.Validate(schema, map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"price": float64(9.5)},
		},
	}))
	assert.Error(t, v.Validate(schema, map[string]interface{}{
		"items": []interface{}{},
	}))
}
