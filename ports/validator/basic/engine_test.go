package basic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/atomexec/atom"
)

func TestEngineValidate(t *testing.T) {
	t.Parallel()

	e, err := New(Options{})
	require.NoError(t, err)

	a := atom.Atom{ID: "atom-1", Language: "go"}

	t.Run("passes valid go", func(t *testing.T) {
		passed, issues, err := e.Validate(context.Background(), a, "func Add(a, b int) int {\n\treturn a + b\n}\n")
		require.NoError(t, err)
		require.True(t, passed)
		require.Empty(t, issues)
	})

	t.Run("fails invalid syntax", func(t *testing.T) {
		passed, issues, err := e.Validate(context.Background(), a, "func Add(a, b int) int {\n\treturn a +\n}\n")
		require.NoError(t, err)
		require.False(t, passed)
		require.NotEmpty(t, issues)
		require.True(t, issues[0].Severity.IsBlocking())
	})

	t.Run("fails empty code", func(t *testing.T) {
		passed, issues, err := e.Validate(context.Background(), a, "   ")
		require.NoError(t, err)
		require.False(t, passed)
		require.Equal(t, atom.SeverityCritical, issues[0].Severity)
	})

	t.Run("skips unchecked language", func(t *testing.T) {
		pyAtom := atom.Atom{ID: "atom-2", Language: "python"}
		passed, issues, err := e.Validate(context.Background(), pyAtom, "def add(a, b):\n    return a + b\n")
		require.NoError(t, err)
		require.True(t, passed)
		require.Len(t, issues, 1)
		require.Equal(t, atom.SeverityInfo, issues[0].Severity)
	})
}
