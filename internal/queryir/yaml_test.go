package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseYAML_KeepsDocumentOrder(t *testing.T) {
	src := `
status[IN]: [active, pending]
age[>]: 18
name: bob
`
	conds, err := ParseYAML([]byte(src))
	require.NoError(t, err)

	assert.Equal(t, Conditions{
		{Key: "status[IN]", Value: []any{"active", "pending"}},
		{Key: "age[>]", Value: 18},
		{Key: "name", Value: "bob"},
	}, conds)
}

func TestParseYAML_OrderBy(t *testing.T) {
	src := `{"age[>=]": 21, "ORDER BY": [{"age": "desc", "name": "asc"}, {"id": "asc"}]}`

	conds, err := ParseYAML([]byte(src))
	require.NoError(t, err)

	filters, orders, err := conds.Split()
	require.NoError(t, err)
	assert.Equal(t, Conditions{{Key: "age[>=]", Value: 21}}, filters)

	// Entry order inside a single mapping is document order, not sorted.
	assert.Equal(t, []Order{
		{Column: "age", Direction: "desc"},
		{Column: "name", Direction: "asc"},
		{Column: "id", Direction: "asc"},
	}, orders)
}

func TestParseYAML_Empty(t *testing.T) {
	for _, src := range []string{"", "   \n", "~", "null", "{}"} {
		conds, err := ParseYAML([]byte(src))
		require.NoError(t, err, "input %q", src)
		assert.Empty(t, conds, "input %q", src)
	}
}

func TestParseYAML_NotAMapping(t *testing.T) {
	_, err := ParseYAML([]byte("[1, 2, 3]"))
	assert.Error(t, err)
}

func TestParseYAML_BadOrderBy(t *testing.T) {
	_, err := ParseYAML([]byte(`ORDER BY: name`))
	assert.ErrorIs(t, err, ErrBadOrder)

	_, err = ParseYAML([]byte(`ORDER BY: [name]`))
	assert.ErrorIs(t, err, ErrBadOrder)
}

func TestParseValuesYAML(t *testing.T) {
	vals, err := ParseValuesYAML([]byte(`{username: a, email: a@x.com, age: 30}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"username", "email", "age"}, vals.Names())
	assert.Equal(t, []any{"a", "a@x.com", 30}, vals.Args())
}

func TestConditionsFromNode_Nested(t *testing.T) {
	var doc struct {
		Where yaml.Node `yaml:"where"`
	}
	src := `
where:
  b: 2
  a: 1
`
	require.NoError(t, yaml.Unmarshal([]byte(src), &doc))

	conds, err := ConditionsFromNode(&doc.Where)
	require.NoError(t, err)
	assert.Equal(t, Where("b", 2, "a", 1), conds)
}

func TestConditionsFromNode_Absent(t *testing.T) {
	var doc struct {
		Where yaml.Node `yaml:"where"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(`other: 1`), &doc))

	conds, err := ConditionsFromNode(&doc.Where)
	require.NoError(t, err)
	assert.Nil(t, conds)
}
