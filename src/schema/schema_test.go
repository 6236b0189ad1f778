package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func personSchema() *ObjectSchema {
	return NewObjectSchema("Person",
		NewProperty("name", String),
		NewProperty("age", Int),
		NewProperty("score", Double),
	)
}

func TestAlign(t *testing.T) {
	t.Run("assigns columns and reorders", func(t *testing.T) {
		o := personSchema()
		stored := []Column{
			{Name: "age", Type: Int},
			{Name: "score", Type: Double},
			{Name: "name", Type: String},
		}

		require.NoError(t, Align(o, stored))

		require.Len(t, o.Properties, len(stored))
		for i, p := range o.Properties {
			assert.Equal(t, i, p.Column)
			assert.Equal(t, stored[i].Name, p.Name)
		}
	})

	t.Run("property count mismatch", func(t *testing.T) {
		o := personSchema()
		err := Align(o, []Column{{Name: "name", Type: String}})
		assert.Error(t, err)
	})

	t.Run("missing column", func(t *testing.T) {
		o := personSchema()
		err := Align(o, []Column{
			{Name: "name", Type: String},
			{Name: "age", Type: Int},
			{Name: "rank", Type: Double},
		})
		assert.ErrorContains(t, err, "score")
	})

	t.Run("type mismatch", func(t *testing.T) {
		o := personSchema()
		err := Align(o, []Column{
			{Name: "name", Type: String},
			{Name: "age", Type: String},
			{Name: "score", Type: Double},
		})
		assert.ErrorContains(t, err, "age")
	})
}

func TestAlignSchema(t *testing.T) {
	s := New(personSchema())

	err := AlignSchema(s, func(string) ([]Column, bool) { return nil, false })
	assert.ErrorContains(t, err, "Person")

	err = AlignSchema(s, func(class string) ([]Column, bool) {
		return personSchema().Columns(), true
	})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Object("Person").Property("score").Column)
}

func TestCompare(t *testing.T) {
	o := NewObjectSchema("A",
		NewProperty("name", String),
		NewProperty("count", Int),
		NewProperty("ratio", Float),
	)
	stored := []Column{
		{Name: "name", Type: String},
		{Name: "ratio", Type: Double},
		{Name: "legacy", Type: Bool},
	}

	changes := Compare(o, stored)

	require.Len(t, changes, 3)
	assert.Equal(t, Change{Kind: RemoveColumn, Column: "legacy"}, changes[0])
	assert.Equal(t, AddColumn, changes[1].Kind)
	assert.Equal(t, "count", changes[1].Column)
	assert.True(t, changes[1].Additive())
	assert.Equal(t, ChangeColumnType, changes[2].Kind)
	assert.Equal(t, "ratio", changes[2].Column)
	assert.False(t, changes[2].Additive())

	assert.Empty(t, Compare(o, o.Columns()))
}

func TestSchemaValidate(t *testing.T) {
	assert.NoError(t, New(personSchema()).Validate())
	assert.Error(t, New(personSchema(), personSchema()).Validate())
	assert.Error(t, New(NewObjectSchema("")).Validate())
	assert.Error(t, New(NewObjectSchema("B", NewProperty("x", Int), NewProperty("x", Bool))).Validate())
}

func TestSchemaClone(t *testing.T) {
	s := New(personSchema())
	c := s.Clone()
	c.Object("Person").Property("age").Column = 7

	assert.Equal(t, -1, s.Object("Person").Property("age").Column)
	assert.Nil(t, (*Schema)(nil).Clone())
}

func TestFromColumns(t *testing.T) {
	o := FromColumns("Dog", []Column{{Name: "name", Type: String}, {Name: "age", Type: Int, Optional: true}})
	require.Len(t, o.Properties, 2)
	assert.Equal(t, 1, o.Property("age").Column)
	assert.True(t, o.Property("age").Optional)
}

func TestCoerce(t *testing.T) {
	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))

	tests := []struct {
		name    string
		prop    *Property
		in      interface{}
		want    interface{}
		wantErr bool
	}{
		{"int from int", NewProperty("n", Int), 3, int64(3), false},
		{"int from int32", NewProperty("n", Int), int32(-2), int64(-2), false},
		{"int rejects string", NewProperty("n", Int), "3", nil, true},
		{"bool", NewProperty("b", Bool), true, true, false},
		{"float from float64", NewProperty("f", Float), 1.5, float32(1.5), false},
		{"double from float32", NewProperty("d", Double), float32(2.5), float64(2.5), false},
		{"string", NewProperty("s", String), "x", "x", false},
		{"data", NewProperty("b", Data), []byte("ab"), []byte("ab"), false},
		{"date is utc", NewProperty("t", Date), when, when.UTC(), false},
		{"nil on required", NewProperty("s", String), nil, nil, true},
		{"nil on optional", &Property{Name: "s", Type: String, Optional: true}, nil, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.prop, tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultValue(t *testing.T) {
	assert.Equal(t, int64(0), NewProperty("count", Int).DefaultValue())
	assert.Equal(t, int64(5), (&Property{Name: "count", Type: Int, Default: 5}).DefaultValue())
	assert.Nil(t, (&Property{Name: "count", Type: Int, Optional: true}).DefaultValue())
	assert.Equal(t, "", NewProperty("s", String).DefaultValue())
}
