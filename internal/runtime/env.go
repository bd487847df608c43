package runtime

import (
	"bufio"
	"io"
	"os"
	"sync"

	"nx/internal/runtime/builtins"
	builtinsio "nx/internal/runtime/builtins/io"
)

// Env aggregates host services used by builtins.
// Env implements builtins.Env to avoid import cycles.
type Env struct {
	ioService builtinsio.IO
}

// IO returns the IO service. Implements builtins.Env interface.
func (e *Env) IO() builtins.IO {
	if e == nil {
		return nil
	}
	return e.ioService
}

// WriterIO writes each printed line to an io.Writer. Write errors are
// remembered and reported by Err.
type WriterIO struct {
	mu  sync.Mutex
	w   *bufio.Writer
	err error
}

func NewWriterIO(w io.Writer) *WriterIO {
	return &WriterIO{w: bufio.NewWriter(w)}
}

func (s *WriterIO) Println(str string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	if _, err := s.w.WriteString(str); err != nil {
		s.err = err
		return
	}
	if err := s.w.WriteByte('\n'); err != nil {
		s.err = err
		return
	}
	// line-buffered so output interleaves correctly with stderr
	s.err = s.w.Flush()
}

// Err returns the first write error, if any.
func (s *WriterIO) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// DefaultEnv returns an Env printing to stdout.
func DefaultEnv() *Env {
	return &Env{
		ioService: NewWriterIO(os.Stdout),
	}
}

// NewEnv creates a new Env with the given IO service.
// This is useful for tests that need to capture output.
func NewEnv(io builtinsio.IO) *Env {
	return &Env{
		ioService: io,
	}
}
