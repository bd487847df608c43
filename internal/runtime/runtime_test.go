package runtime_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nx/internal/runtime"
	"nx/internal/runtime/builtins"
	"nx/internal/value"
)

type captureIO struct {
	lines []string
}

func (c *captureIO) Println(s string) {
	c.lines = append(c.lines, s)
}

func TestCallBuiltinPrint(t *testing.T) {
	out := &captureIO{}
	env := runtime.NewEnv(out)

	for _, v := range []value.Value{value.Int(7), value.Str("hi"), value.Void()} {
		res, err := runtime.CallBuiltin(env, builtins.Print, []value.Value{v})
		require.NoError(t, err)
		assert.Equal(t, value.KindVoid, res.Kind, "print yields Void")
	}
	assert.Equal(t, []string{"7", "hi", ""}, out.lines)
}

func TestCallBuiltinErrors(t *testing.T) {
	env := runtime.NewEnv(&captureIO{})

	_, err := runtime.CallBuiltin(env, builtins.ID(999), nil)
	assert.EqualError(t, err, "unknown builtin id 999")

	_, err = runtime.CallBuiltin(env, builtins.Print, nil)
	assert.EqualError(t, err, "print expects 1 arguments, got 0")

	_, err = runtime.CallBuiltin(nil, builtins.Print, []value.Value{value.Int(1)})
	assert.EqualError(t, err, "runtime env IO is nil")
}

func TestRegistry(t *testing.T) {
	b := builtins.LookupByName("print")
	require.NotNil(t, b)
	assert.Equal(t, 1, b.Meta.Arity)
	assert.Equal(t, builtins.Print, b.Meta.ID)
	assert.Same(t, b, builtins.LookupByID(builtins.Print))
	assert.Nil(t, builtins.LookupByName("input"))

	var names []string
	for _, meta := range builtins.All() {
		names = append(names, meta.Name)
	}
	assert.Contains(t, names, "print")
}

func TestRegisterRejectsInvalidBuiltins(t *testing.T) {
	call := func(builtins.Env, []value.Value) (value.Value, error) { return value.Void(), nil }

	assert.PanicsWithValue(t, "builtin bad (ID 90) has negative arity -1", func() {
		builtins.Register(builtins.Builtin{Meta: builtins.Meta{ID: 90, Name: "bad", Arity: -1}, Call: call})
	})
	assert.Panics(t, func() {
		builtins.Register(builtins.Builtin{Meta: builtins.Meta{ID: 91, Name: "nocall"}})
	})
	assert.Panics(t, func() {
		builtins.Register(builtins.Builtin{Meta: builtins.Meta{ID: builtins.Print, Name: "dup"}, Call: call})
	})
	assert.Panics(t, func() {
		builtins.Register(builtins.Builtin{Meta: builtins.Meta{ID: 92, Name: "print"}, Call: call})
	})
	assert.Nil(t, builtins.LookupByID(90))
	assert.Len(t, builtins.All(), 1)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriterIO(t *testing.T) {
	var buf bytes.Buffer
	w := runtime.NewWriterIO(&buf)
	w.Println("one")
	w.Println("")
	w.Println("two")
	require.NoError(t, w.Err())
	assert.Equal(t, "one\n\ntwo\n", buf.String())

	bad := runtime.NewWriterIO(failingWriter{})
	bad.Println("lost")
	assert.EqualError(t, bad.Err(), "disk full")
}
