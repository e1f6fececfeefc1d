package functiontool_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-adk/adk/adk/tool/functiontool"
)

type weatherArgs struct {
	City  string `json:"city" jsonschema:"required,description=City name"`
	Units string `json:"units,omitempty" jsonschema:"description=Units,default=celsius"`
}

func TestNewGeneratesSchemaAndExecutes(t *testing.T) {
	called := weatherArgs{}
	tl, err := functiontool.New(
		functiontool.Config{Name: "get_weather", Description: "Get the weather"},
		func(_ context.Context, args weatherArgs) (map[string]any, error) {
			called = args
			return map[string]any{"temp": 22}, nil
		},
	)
	require.NoError(t, err)
	require.Equal(t, "get_weather", tl.Name())

	schema := tl.Schema()
	require.Equal(t, "object", schema["type"])
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, props, "city")
	require.NotContains(t, schema, "$schema")

	out, err := tl.Execute(context.Background(), json.RawMessage(`{"city":"Lisbon","units":"celsius"}`))
	require.NoError(t, err)
	require.Equal(t, "Lisbon", called.City)

	var result map[string]any
	require.NoError(t, json.Unmarshal(out, &result))
	require.Equal(t, float64(22), result["temp"])
}

func TestNewRejectsMissingConfig(t *testing.T) {
	_, err := functiontool.New(functiontool.Config{Description: "x"}, func(_ context.Context, _ weatherArgs) (map[string]any, error) {
		return nil, nil
	})
	require.Error(t, err)
}
