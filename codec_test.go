package stepwise

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestArguments_JSONKeepsOrder(t *testing.T) {
	var args Arguments
	require.NoError(t, json.Unmarshal([]byte(`{"z": 1, "a": 2.5, "m": "R1", "l": [1, "x"], "o": {"k": 3}}`), &args))

	assert.Equal(t, []string{"z", "a", "m", "l", "o"}, args.Names())
	z, _ := args.Get("z")
	assert.Equal(t, 1, z)
	a, _ := args.Get("a")
	assert.Equal(t, 2.5, a)
	l, _ := args.Get("l")
	assert.Equal(t, []any{1, "x"}, l)
	o, _ := args.Get("o")
	assert.Equal(t, map[string]any{"k": 3}, o)

	out, err := json.Marshal(args)
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"a":2.5,"m":"R1","l":[1,"x"],"o":{"k":3}}`, string(out))
}

func TestArguments_JSONErrors(t *testing.T) {
	var args Arguments
	assert.Error(t, json.Unmarshal([]byte(`[1, 2]`), &args))
	assert.NoError(t, json.Unmarshal([]byte(`null`), &args))
	assert.Empty(t, args)
}

func TestArguments_YAMLKeepsOrder(t *testing.T) {
	var args Arguments
	require.NoError(t, yaml.Unmarshal([]byte("b: \"20\"\na: R1\nc: [1, 2]\n"), &args))
	assert.Equal(t, []string{"b", "a", "c"}, args.Names())
	b, _ := args.Get("b")
	assert.Equal(t, "20", b, "quoted scalars stay strings")

	out, err := yaml.Marshal(args)
	require.NoError(t, err)
	var back Arguments
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, args, back)

	assert.Error(t, yaml.Unmarshal([]byte("- a\n- b\n"), &args))
}

func TestArguments_JSONSchemaIsObject(t *testing.T) {
	assert.Equal(t, "object", Arguments{}.JSONSchema().Type)
}
