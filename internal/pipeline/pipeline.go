// Package pipeline chains the nx stages: scan+parse, semantic analysis,
// compilation and execution. The first failing stage stops the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/tliron/commonlog"

	"nx/internal/ast"
	"nx/internal/cache"
	"nx/internal/ir"
	"nx/internal/lexer"
	"nx/internal/parser"
	"nx/internal/runtime"
	"nx/internal/sema"
	"nx/internal/vm"
)

var log = commonlog.GetLogger("nx.pipeline")

// Source and bytecode file extensions.
const (
	SourceExt   = ".nx"
	BytecodeExt = ".nxc"
)

// Stage names the pipeline step an error came from.
type Stage string

const (
	StageLoad     Stage = "load"
	StageParse    Stage = "parse"
	StageSemantic Stage = "semantic"
	StageCompile  Stage = "compile"
	StageRuntime  Stage = "runtime"
)

// StageError tags an error with the stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageError(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// StageOf reports the stage of err, or "" if err did not come from a stage.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// Options configures a pipeline run. The zero value scans leniently, caches
// nothing and prints to stdout.
type Options struct {
	Strict    bool
	Cache     *cache.Cache
	MaxFrames int
	Timeout   time.Duration
	Output    io.Writer
}

func (o Options) lexerOptions() []lexer.Option {
	if o.Strict {
		return []lexer.Option{lexer.Strict()}
	}
	return nil
}

func (o Options) cacheKey(src string) string {
	if o.Strict {
		return cache.Key(src, "strict")
	}
	return cache.Key(src)
}

// LoadSource reads a source file.
func LoadSource(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", stageError(StageLoad, fmt.Errorf("cannot read file %s: %w", path, err))
	}
	return string(content), nil
}

// Parse scans and parses src.
func Parse(src string, opts Options) (*ast.Program, error) {
	prog, err := parser.Parse(src, opts.lexerOptions()...)
	if err != nil {
		return nil, stageError(StageParse, err)
	}
	return prog, nil
}

// Check parses and analyzes src.
func Check(src string, opts Options) (*ast.Program, error) {
	prog, err := Parse(src, opts)
	if err != nil {
		return nil, err
	}
	if err := sema.Analyze(prog); err != nil {
		return nil, stageError(StageSemantic, err)
	}
	return prog, nil
}

// Compile turns src into a validated program, consulting opts.Cache first
// when one is set. Cache failures are logged and never fail the compile.
func Compile(ctx context.Context, src string, opts Options) (*ir.Program, error) {
	var key string
	if opts.Cache != nil {
		key = opts.cacheKey(src)
		prog, ok, err := opts.Cache.Get(ctx, key)
		switch {
		case err != nil:
			log.Warningf("cache lookup: %v", err)
		case ok:
			log.Debugf("cache hit %s", key[:12])
			return prog, nil
		}
	}

	tree, err := Check(src, opts)
	if err != nil {
		return nil, err
	}
	prog, err := ir.Compile(tree)
	if err != nil {
		return nil, stageError(StageCompile, err)
	}

	if opts.Cache != nil {
		if err := opts.Cache.Put(ctx, key, prog); err != nil {
			log.Warningf("cache store: %v", err)
		}
	}
	return prog, nil
}

// Execute runs a compiled program to completion.
func Execute(ctx context.Context, prog *ir.Program, opts Options) error {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var vmOpts []vm.Option
	if opts.MaxFrames > 0 {
		vmOpts = append(vmOpts, vm.WithMaxFrames(opts.MaxFrames))
	}

	w := runtime.NewWriterIO(out)
	start := time.Now()
	err := vm.New(prog, runtime.NewEnv(w), vmOpts...).Run(ctx)
	log.Debugf("executed in %s", time.Since(start))
	if err != nil {
		return stageError(StageRuntime, err)
	}
	if err := w.Err(); err != nil {
		return stageError(StageRuntime, fmt.Errorf("writing output: %w", err))
	}
	return nil
}

// Run compiles and executes src.
func Run(ctx context.Context, src string, opts Options) error {
	prog, err := Compile(ctx, src, opts)
	if err != nil {
		return err
	}
	return Execute(ctx, prog, opts)
}

// LoadProgram returns the program for path: .nxc files are read as bytecode,
// anything else is compiled from source.
func LoadProgram(ctx context.Context, path string, opts Options) (*ir.Program, error) {
	if filepath.Ext(path) == BytecodeExt {
		prog, err := ir.ReadProgramFromFile(path)
		if err != nil {
			return nil, stageError(StageLoad, fmt.Errorf("failed to read bytecode: %w", err))
		}
		return prog, nil
	}
	src, err := LoadSource(path)
	if err != nil {
		return nil, err
	}
	return Compile(ctx, src, opts)
}

// RunFile compiles or loads path and executes it.
func RunFile(ctx context.Context, path string, opts Options) error {
	prog, err := LoadProgram(ctx, path, opts)
	if err != nil {
		return err
	}
	return Execute(ctx, prog, opts)
}
