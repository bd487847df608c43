package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	goruntime "runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"golang.org/x/sync/errgroup"

	"nx/internal/ast"
	"nx/internal/cache"
	"nx/internal/config"
	"nx/internal/ir"
	"nx/internal/pipeline"
)

const version = "0.1.0"

var log = commonlog.GetLogger("nx")

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "run":
		err = cmdRun(args)
	case "build":
		err = cmdBuild(args)
	case "dis":
		err = cmdDis(args)
	case "ast":
		err = cmdAST(args)
	case "check":
		err = cmdCheck(args)
	case "help", "-h", "--help":
		usage()
	case "version", "--version":
		fmt.Println("nx", version)
	default:
		ext := filepath.Ext(cmd)
		if ext == pipeline.SourceExt || ext == pipeline.BytecodeExt {
			err = cmdRun(os.Args[1:])
			break
		}
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	if code := report(os.Stderr, err); code != 0 {
		os.Exit(code)
	}
}

// report prints err once for the user and returns the exit status. A help
// request has already printed its usage and is not an error.
func report(w io.Writer, err error) int {
	if err == nil || errors.Is(err, flag.ErrHelp) {
		return 0
	}
	fmt.Fprintln(w, "error:", err)
	return 1
}

func usage() {
	fmt.Println(`nx language CLI

Usage:
  nx <file.nx|file.nxc>
  nx run [flags] <file.nx|file.nxc>
  nx build [flags] <file.nx> [-o out.nxc]
  nx dis [flags] <file.nx|file.nxc>
  nx ast [flags] <file.nx>
  nx check [flags] <file.nx>...

Commands:
  version  nx version
  run      Compile+run .nx source or run .nxc bytecode
  build    Compile .nx source into .nxc file
  dis      Print the bytecode listing
  ast      Print the syntax tree
  check    Parse, analyze and compile files without running them

Flags:
  -config   Config file (default: nearest nx.toml)
  -v        Log verbosity (e.g. -v=2)
  -strict   Reject characters outside the language
  -timeout  Abort a run after this long (e.g. 5s)
  -cache    Cache compiled programs (per nx.toml [cache])`)
}

// -------------- Shared flags and configuration --------------

type session struct {
	fs  *flag.FlagSet
	cfg *config.Config

	configPath string
	verbosity  int
	strict     bool
	timeout    time.Duration
	useCache   bool

	cache *cache.Cache
	args  []string
}

func newSession(name string) *session {
	s := &session{fs: flag.NewFlagSet(name, flag.ContinueOnError)}
	s.fs.SetOutput(os.Stderr)
	s.fs.StringVar(&s.configPath, "config", "", "config file (default: nearest nx.toml)")
	s.fs.IntVar(&s.verbosity, "v", 0, "log verbosity")
	s.fs.BoolVar(&s.strict, "strict", false, "reject characters outside the language")
	s.fs.DurationVar(&s.timeout, "timeout", 0, "abort a run after this long")
	s.fs.BoolVar(&s.useCache, "cache", false, "cache compiled programs")
	return s
}

// parse reads the flags, loads the configuration and lets explicitly set
// flags override it.
func (s *session) parse(args []string) error {
	// flags may follow the file arguments, as in `nx build main.nx -o out.nxc`
	for {
		if err := s.fs.Parse(args); err != nil {
			return err
		}
		if s.fs.NArg() == 0 {
			break
		}
		s.args = append(s.args, s.fs.Arg(0))
		args = s.fs.Args()[1:]
	}

	var err error
	if s.configPath != "" {
		s.cfg, err = config.LoadFile(s.configPath)
	} else {
		s.cfg, err = config.FindAndLoad(".")
	}
	if err != nil {
		return err
	}

	s.fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "v":
			s.cfg.Log.Verbosity = s.verbosity
		case "strict":
			s.cfg.Lexer.Strict = s.strict
		case "timeout":
			s.cfg.Run.Timeout.Duration = s.timeout
		case "cache":
			s.cfg.Cache.Enabled = s.useCache
		}
	})

	var logFile *string
	if s.cfg.Log.File != "" {
		logFile = &s.cfg.Log.File
	}
	commonlog.Configure(s.cfg.Log.Verbosity, logFile)
	if s.cfg.Dir != "" {
		log.Debugf("config dir %s", s.cfg.Dir)
	}
	return nil
}

func (s *session) options(ctx context.Context) (pipeline.Options, error) {
	opts := pipeline.Options{
		Strict:    s.cfg.Lexer.Strict,
		MaxFrames: s.cfg.Run.MaxFrames,
		Timeout:   s.cfg.Run.Timeout.Duration,
	}
	if s.cfg.Cache.Enabled {
		c, err := cache.Open(ctx, s.cfg.Cache.Driver, s.cfg.CachePath())
		if err != nil {
			return opts, fmt.Errorf("cache: %w", err)
		}
		s.cache = c
		opts.Cache = c
	}
	return opts, nil
}

func (s *session) close() {
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			log.Warningf("closing cache: %v", err)
		}
	}
}

func (s *session) input(cmd string) (string, error) {
	if len(s.args) < 1 {
		return "", fmt.Errorf("%s: missing input file", cmd)
	}
	return s.args[0], nil
}

// -------------- RUN --------------

func cmdRun(args []string) error {
	s := newSession("run")
	if err := s.parse(args); err != nil {
		return err
	}
	input, err := s.input("run")
	if err != nil {
		return err
	}
	ext := filepath.Ext(input)
	if ext != pipeline.SourceExt && ext != pipeline.BytecodeExt {
		return fmt.Errorf("run: unsupported file extension %q (use .nx or .nxc)", ext)
	}

	ctx := context.Background()
	opts, err := s.options(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	return pipeline.RunFile(ctx, input, opts)
}

// -------------- BUILD --------------

func cmdBuild(args []string) error {
	s := newSession("build")
	var out string
	s.fs.StringVar(&out, "o", "", "output file (default: <input>.nxc)")
	if err := s.parse(args); err != nil {
		return err
	}
	input, err := s.input("build")
	if err != nil {
		return err
	}
	if filepath.Ext(input) != pipeline.SourceExt {
		return fmt.Errorf("build: input must be .nx source file")
	}
	if out == "" {
		base := input[:len(input)-len(filepath.Ext(input))]
		out = base + pipeline.BytecodeExt
	}

	ctx := context.Background()
	opts, err := s.options(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	prog, err := pipeline.LoadProgram(ctx, input, opts)
	if err != nil {
		return err
	}
	if err := ir.WriteProgramToFile(out, prog); err != nil {
		return fmt.Errorf("failed to write bytecode: %w", err)
	}

	if info, err := os.Stat(out); err == nil {
		fmt.Fprintf(os.Stderr, "wrote %s (%s, %d instructions)\n", out, humanize.Bytes(uint64(info.Size())), len(prog.Code))
	}
	return nil
}

// -------------- DIS / AST --------------

func cmdDis(args []string) error {
	s := newSession("dis")
	if err := s.parse(args); err != nil {
		return err
	}
	input, err := s.input("dis")
	if err != nil {
		return err
	}

	ctx := context.Background()
	opts, err := s.options(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	prog, err := pipeline.LoadProgram(ctx, input, opts)
	if err != nil {
		return err
	}
	fmt.Print(prog.DisassembleWithName(filepath.Base(input)))
	return nil
}

func cmdAST(args []string) error {
	s := newSession("ast")
	if err := s.parse(args); err != nil {
		return err
	}
	input, err := s.input("ast")
	if err != nil {
		return err
	}

	src, err := pipeline.LoadSource(input)
	if err != nil {
		return err
	}
	prog, err := pipeline.Parse(src, pipeline.Options{Strict: s.cfg.Lexer.Strict})
	if err != nil {
		return err
	}
	fmt.Print(ast.Dump(prog))
	return nil
}

// -------------- CHECK --------------

func cmdCheck(args []string) error {
	s := newSession("check")
	if err := s.parse(args); err != nil {
		return err
	}
	files := s.args
	if len(files) == 0 {
		return errors.New("check: missing input file")
	}

	ctx := context.Background()
	opts, err := s.options(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	results := make([]error, len(files))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(goruntime.NumCPU())
	for i, file := range files {
		eg.Go(func() error {
			src, err := pipeline.LoadSource(file)
			if err == nil {
				_, err = pipeline.Compile(ctx, src, opts)
			}
			results[i] = err
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	failed := 0
	for i, err := range results {
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: %v\n", files[i], err)
			continue
		}
		log.Infof("%s: ok", files[i])
	}
	if failed > 0 {
		return fmt.Errorf("check: %d of %d files failed", failed, len(files))
	}
	return nil
}
