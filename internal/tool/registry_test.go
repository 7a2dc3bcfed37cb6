package tool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func echoHandler(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
	return params, nil
}

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()

	err := r.Register(Definition{Name: "echo", Handler: echoHandler})
	require.NoError(t, err)

	def, ok := r.Lookup("echo")
	require.True(t, ok)
	require.Equal(t, "echo", def.Name)

	_, ok = r.Lookup("missing")
	require.False(t, ok)
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()

	err := r.Register(Definition{Name: "", Handler: echoHandler})
	require.ErrorIs(t, err, ErrToolNameEmpty)

	err = r.Register(Definition{Name: "broken"})
	require.ErrorIs(t, err, ErrNilHandler)
}

func TestDefinitionsKeepRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"charlie", "alpha", "bravo"} {
		require.NoError(t, r.Register(Definition{Name: name, Handler: echoHandler}))
	}

	defs := r.Definitions()
	require.Len(t, defs, 3)
	require.Equal(t, "charlie", defs[0].Name)
	require.Equal(t, "alpha", defs[1].Name)
	require.Equal(t, "bravo", defs[2].Name)
}

func TestRegisterReplacesExistingDefinition(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{Name: "echo", Description: "old", Handler: echoHandler}))
	require.NoError(t, r.Register(Definition{Name: "echo", Description: "new", Handler: echoHandler}))

	def, ok := r.Lookup("echo")
	require.True(t, ok)
	require.Equal(t, "new", def.Description)
	require.Len(t, r.Definitions(), 1)
}
