package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nx/internal/cache"
	"nx/internal/ir"
	"nx/internal/parser"
	"nx/internal/sema"
	"nx/internal/vm"
)

func runSource(t *testing.T, src string, opts Options) (string, error) {
	t.Helper()
	var out bytes.Buffer
	opts.Output = &out
	err := Run(context.Background(), src, opts)
	return out.String(), err
}

func TestScenarios(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		out   string
		stage Stage
		msg   string
	}{
		{
			name: "counting loop",
			src:  `fn main() { let x = 0; while (x < 3) { print(x); x = x + 1; } }`,
			out:  "0\n1\n2\n",
		},
		{
			name: "call with arguments",
			src:  `fn add(a, b) { return a + b; } fn main() { print(add(2, 3)); }`,
			out:  "5\n",
		},
		{
			name:  "duplicate function",
			src:   `fn f() { } fn f() { } fn main() { }`,
			stage: StageSemantic,
			msg:   "duplicate function `f`",
		},
		{
			name:  "break outside loop",
			src:   `fn main() { break; }`,
			stage: StageSemantic,
			msg:   "break used outside loop",
		},
		{
			name:  "undefined variable",
			src:   `fn main() { print(y); }`,
			stage: StageSemantic,
			msg:   "undefined variable `y`",
		},
		{
			name: "string literal",
			src:  `fn main() { print("hi"); }`,
			out:  "hi\n",
		},
		{
			name:  "parse error",
			src:   `fn main() { let x = ; }`,
			stage: StageParse,
			msg:   "unexpected token in primary position",
		},
		{
			name:  "missing main",
			src:   `fn helper() { }`,
			stage: StageSemantic,
			msg:   "missing main function",
		},
		{
			name:  "runtime fault",
			src:   `fn main() { print("before"); print(1 / 0); print("after"); }`,
			out:   "before\n",
			stage: StageRuntime,
			msg:   "division by zero",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runSource(t, tt.src, Options{})
			assert.Equal(t, tt.out, out)
			if tt.stage == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.stage, StageOf(err))
			assert.Contains(t, err.Error(), string(tt.stage)+": ")
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestStageErrorTypes(t *testing.T) {
	_, err := runSource(t, `fn main() {`, Options{})
	var perr *parser.Error
	assert.True(t, errors.As(err, &perr))

	_, err = runSource(t, `fn main() { nope(); }`, Options{})
	var serr *sema.Error
	assert.True(t, errors.As(err, &serr))

	_, err = runSource(t, `fn main() { print("a" + 1); }`, Options{})
	var rerr *vm.RuntimeError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "expected int, got (string, int)", rerr.Msg)
}

func TestStrict(t *testing.T) {
	src := `fn main() { print(1) @; }`
	out, err := runSource(t, src, Options{})
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	_, err = runSource(t, src, Options{Strict: true})
	assert.Equal(t, StageParse, StageOf(err))
	assert.Contains(t, err.Error(), "unexpected character '@'")
}

func TestMaxFrames(t *testing.T) {
	_, err := runSource(t, `fn f() { return f(); } fn main() { f(); }`, Options{MaxFrames: 10})
	assert.Equal(t, StageRuntime, StageOf(err))
	assert.Contains(t, err.Error(), "call stack overflow")
}

func TestTimeout(t *testing.T) {
	_, err := runSource(t, `fn main() { while 1 { } }`, Options{Timeout: 20 * time.Millisecond})
	assert.Equal(t, StageRuntime, StageOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCompileUsesCache(t *testing.T) {
	ctx := context.Background()
	c, err := cache.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer c.Close()

	src := `fn main() { print("from cache"); }`
	opts := Options{Cache: c}

	first, err := Compile(ctx, src, opts)
	require.NoError(t, err)
	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	second, err := Compile(ctx, src, opts)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Strict builds are cached separately.
	_, err = Compile(ctx, src, Options{Cache: c, Strict: true})
	require.NoError(t, err)
	n, err = c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Failed compiles are not cached.
	_, err = Compile(ctx, `fn main() { x; }`, opts)
	assert.Equal(t, StageSemantic, StageOf(err))
	n, err = c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var out bytes.Buffer
	require.NoError(t, Run(ctx, src, Options{Cache: c, Output: &out}))
	assert.Equal(t, "from cache\n", out.String())
}

func TestRunFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "fib.nx")
	require.NoError(t, os.WriteFile(srcPath, []byte(`
fn fib(n) {
    if n < 2 { return n; }
    return fib(n - 1) + fib(n - 2);
}
fn main() {
    let i = 0;
    while i < 8 {
        print(fib(i));
        i = i + 1;
    }
}
`), 0644))

	var out bytes.Buffer
	require.NoError(t, RunFile(ctx, srcPath, Options{Output: &out}))
	want := "0\n1\n1\n2\n3\n5\n8\n13\n"
	assert.Equal(t, want, out.String())

	prog, err := LoadProgram(ctx, srcPath, Options{})
	require.NoError(t, err)
	binPath := filepath.Join(dir, "fib.nxc")
	require.NoError(t, ir.WriteProgramToFile(binPath, prog))

	out.Reset()
	require.NoError(t, RunFile(ctx, binPath, Options{Output: &out}))
	assert.Equal(t, want, out.String())

	err = RunFile(ctx, filepath.Join(dir, "missing.nx"), Options{})
	assert.Equal(t, StageLoad, StageOf(err))
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, os.WriteFile(binPath, []byte("junk"), 0644))
	err = RunFile(ctx, binPath, Options{})
	assert.Equal(t, StageLoad, StageOf(err))
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestOutputErrorsSurface(t *testing.T) {
	err := Run(context.Background(), `fn main() { print(1); }`, Options{Output: failingWriter{}})
	assert.Equal(t, StageRuntime, StageOf(err))
	assert.Contains(t, err.Error(), "disk full")
}

func TestStageOfForeignError(t *testing.T) {
	assert.Equal(t, Stage(""), StageOf(errors.New("plain")))
	assert.Equal(t, Stage(""), StageOf(nil))
}
