package schema_test

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/effective-security/agentloop/pkg/schema"
	"github.com/invopop/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type LookupType string

const (
	Exact  LookupType = "exact"
	Prefix LookupType = "prefix"
	Fuzzy  LookupType = "fuzzy"
)

// Lookup represents a lookup request with various parameters.
type Lookup struct {
	Topic string     `json:"topic,omitempty" jsonschema:"title=Topic,description=Topic of the lookup,example=golang"`
	Query string     `json:"query" jsonschema:"title=Query,description=Query to look up,example=what is golang"`
	Type  LookupType `json:"type" jsonschema:"title=Type,description=Type of lookup,default=exact,enum=exact,enum=prefix,enum=fuzzy"`
	Tags  []*Tag     `json:"tags,omitempty" jsonschema:"title=Tags,description=Tags to filter the lookup"`
}

// Tag represents a key-value pair.
type Tag struct {
	Key   string `json:"key" jsonschema:"title=Key,description=Key of the tag"`
	Value string `json:"value" jsonschema:"title=Value,description=Value of the tag"`
}

func TestSchema(t *testing.T) {
	t.Parallel()

	t.Run("Lookup", func(t *testing.T) {
		t.Parallel()
		s, err := schema.New(reflect.TypeOf(Lookup{}))
		require.NoError(t, err)

		exp := `{
	"properties": {
		"topic": {
			"type": "string",
			"title": "Topic",
			"description": "Topic of the lookup",
			"examples": [
				"golang"
			]
		},
		"query": {
			"type": "string",
			"title": "Query",
			"description": "Query to look up",
			"examples": [
				"what is golang"
			]
		},
		"type": {
			"type": "string",
			"enum": [
				"exact",
				"prefix",
				"fuzzy"
			],
			"title": "Type",
			"description": "Type of lookup",
			"default": "exact"
		},
		"tags": {
			"items": {
				"properties": {
					"key": {
						"type": "string",
						"title": "Key",
						"description": "Key of the tag"
					},
					"value": {
						"type": "string",
						"title": "Value",
						"description": "Value of the tag"
					}
				},
				"type": "object",
				"required": [
					"key",
					"value"
				]
			},
			"type": "array",
			"title": "Tags",
			"description": "Tags to filter the lookup"
		}
	},
	"type": "object",
	"required": [
		"query",
		"type"
	]
}`
		assert.Equal(t, exp, s.String())

		// cached
		s2, err := schema.New(reflect.TypeOf(Lookup{}))
		require.NoError(t, err)
		assert.Same(t, s, s2)
	})

	t.Run("Weather", func(t *testing.T) {
		t.Parallel()

		type weatherRequest struct {
			Location string `json:"location" jsonschema:"description=City name"`
			Unit     string `json:"unit" jsonschema:"description=Unit of measurement,enum=celsius,enum=fahrenheit"`
		}

		s, err := schema.New(reflect.TypeOf(weatherRequest{}))
		require.NoError(t, err)
		exp := `{
	"properties": {
		"location": {
			"type": "string",
			"description": "City name"
		},
		"unit": {
			"type": "string",
			"enum": [
				"celsius",
				"fahrenheit"
			],
			"description": "Unit of measurement"
		}
	},
	"type": "object",
	"required": [
		"location",
		"unit"
	]
}`
		assert.Equal(t, exp, s.String())

		// unmarshal
		var sc jsonschema.Schema
		err = json.Unmarshal([]byte(exp), &sc)
		require.NoError(t, err)
		assert.Equal(t, 2, sc.Properties.Len())
	})
}

func TestSchemaFromAny(t *testing.T) {
	t.Parallel()

	sc, err := schema.FromAny(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type": "string",
			},
		},
		"required": []string{"query"},
	})
	require.NoError(t, err)

	js, err := json.MarshalIndent(sc, "", "\t")
	require.NoError(t, err)

	exp := `{
	"properties": {
		"query": {
			"type": "string"
		}
	},
	"type": "object",
	"required": [
		"query"
	]
}`
	assert.Equal(t, exp, string(js))
}

func TestSchemaNewResponseFormat(t *testing.T) {
	t.Parallel()

	rf, err := schema.NewResponseFormat(reflect.TypeOf(Tag{}), true)
	require.NoError(t, err)

	js, err := json.MarshalIndent(rf, "", "\t")
	require.NoError(t, err)

	exp := `{
	"type": "json_schema",
	"json_schema": {
		"name": "Tag",
		"strict": true,
		"schema": {
			"type": "object",
			"properties": {
				"key": {
					"type": "string",
					"title": "Key",
					"description": "Key of the tag"
				},
				"value": {
					"type": "string",
					"title": "Value",
					"description": "Value of the tag"
				}
			},
			"additionalProperties": false,
			"required": [
				"key",
				"value"
			]
		}
	}
}`
	assert.Equal(t, exp, string(js))
}

func TestValidator(t *testing.T) {
	t.Parallel()

	s, err := schema.New(reflect.TypeOf(Tag{}))
	require.NoError(t, err)

	v, err := schema.NewValidator(s.Parameters)
	require.NoError(t, err)

	err = v.ValidateJSON([]byte(`{"key":"env","value":"prod"}`))
	assert.NoError(t, err)

	err = v.ValidateJSON([]byte(`{"key":"env"}`))
	assert.Error(t, err)

	err = v.ValidateJSON([]byte(`{"key":1,"value":"prod"}`))
	assert.Error(t, err)

	err = v.ValidateJSON([]byte(`not json`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")

	err = v.ValidateJSON(nil)
	assert.Error(t, err)
}
