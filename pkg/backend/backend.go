// Package backend provides the pluggable execution strategies a case
// can be dispatched to, plus the registry external tooling queries.
package backend

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/strataregula/doe-runner/pkg/cases"
)

// RawOutcome is a backend result before interpretation. It is owned by
// the Execute call that produced it and consumed immediately by the
// metric extractor.
type RawOutcome struct {
	// TimedOut is set when the case exceeded its wall-clock bound. When
	// set, ExitCode is meaningless.
	TimedOut bool

	ExitCode int
	Stdout   string
	Stderr   string
	Elapsed  time.Duration
}

// Backend runs one case bounded by the case's timeout. Execute blocks
// until the outcome is known and always returns within timeout_s plus
// bounded teardown overhead. A non-zero exit code is a normal outcome,
// not an error; errors are reserved for platform-level conditions such
// as failing to spawn a process.
type Backend interface {
	Name() string
	Execute(ctx context.Context, c *cases.Case) (*RawOutcome, error)
}

// Info describes a registered backend for external validation/info tooling.
type Info struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	Deterministic bool   `json:"deterministic"`
	SpawnsProcess bool   `json:"spawns_process"`
}

// Registry holds the available backends.
type Registry interface {
	// Get returns the backend registered under name.
	Get(name string) (Backend, bool)

	// List returns the declared capabilities of all backends, sorted by name.
	List() []Info
}

// Compile-time interface check.
var _ Registry = (*registry)(nil)

type registry struct {
	backends map[string]Backend
	infos    map[string]Info
}

// NewRegistry creates a registry with the built-in backends registered.
func NewRegistry(log logrus.FieldLogger) Registry {
	r := &registry{
		backends: make(map[string]Backend),
		infos:    make(map[string]Info),
	}

	shell := newShellBackend(log)

	r.register(shell, Info{
		Name:          cases.BackendShell,
		Description:   "substitutes placeholders into cmd_template and runs it as an external process",
		SpawnsProcess: true,
	})
	r.register(newDummyBackend(log), Info{
		Name:          cases.BackendDummy,
		Description:   "derives synthetic metrics from the seed without spawning a process",
		Deterministic: true,
	})
	r.register(newSimrouteBackend(log, shell), Info{
		Name:          cases.BackendSimroute,
		Description:   "delegates to an external simroute simulation invocation with scenario/seed forwarding",
		SpawnsProcess: true,
	})

	return r
}

func (r *registry) register(b Backend, info Info) {
	r.backends[b.Name()] = b
	r.infos[b.Name()] = info
}

func (r *registry) Get(name string) (Backend, bool) {
	b, ok := r.backends[name]

	return b, ok
}

func (r *registry) List() []Info {
	out := make([]Info, 0, len(r.infos))
	for _, info := range r.infos {
		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}
