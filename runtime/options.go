package munrt

import (
	"github.com/sirupsen/logrus"

	"github.com/mun-lang/munrt/internal/abi"
	"github.com/mun-lang/munrt/internal/dispatch"
	"github.com/mun-lang/munrt/internal/loader"
)

// config accumulates New's functional options before a Runtime is
// constructed, the same shape the teacher uses for cmd/viewcore's
// gocore.Flags-style option structs (SPEC_FULL.md section 10).
type config struct {
	logger *logrus.Logger
	injected map[string]dispatch.Export
	heapLimit int64
	open loader.OpenFunc
}

// Option configures a Runtime at construction time.
type Option func(*config)

// WithLogger sets the structured logger a Runtime reports assembly
// load/link/migration activity through. Defaults to a logger
// discarding all output.
func WithLogger(l *logrus.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithInjectedFunction registers a host function a loaded library may
// depend on . sig must exactly match the
// compiled dependency's signature or linking fails with LinkError.
func WithInjectedFunction(name string, sig abi.FunctionSignature, fnPtr uintptr) Option {
	return func(c *config) {
		if c.injected == nil {
			c.injected = make(map[string]dispatch.Export)
		}
		c.injected[name] = dispatch.Export{Name: name, Signature: sig, FnPtr: fnPtr}
	}
}

// WithHeapLimit caps the GC heap's total object-storage bytes; 0
// (the default) means unlimited.
func WithHeapLimit(limit int64) Option {
	return func(c *config) { c.heapLimit = limit }
}

// WithOpenFunc overrides how New opens the library at its path,
// bypassing dlopen entirely. Intended for tests and host-authored
// assemblies that hand the runtime an in-process abi.AssemblyInfo via
// loader.NewInMemoryLibrary instead of a real compiled .munlib (spec
// section 6 allows in-process test assemblies).
func WithOpenFunc(open loader.OpenFunc) Option {
	return func(c *config) { c.open = open }
}

func newConfig(opts []Option) config {
	var c config
	for _, opt := range opts {
		opt(&c)
	}
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.SetOutput(discardWriter{})
	}
	return c
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
