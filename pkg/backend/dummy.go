package backend

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/strataregula/doe-runner/pkg/cases"
)

// Synthetic metric ranges produced by the dummy backend. Documented so
// tests and threshold declarations can rely on them.
const (
	// DummyP95Min/Max bound the synthetic p95 latency in seconds.
	DummyP95Min = 0.01
	DummyP95Max = 0.20

	// DummyP99Factor is the fixed multiple applied to p95 to derive p99.
	DummyP99Factor = 1.5

	// DummyThroughputMin/Max bound the synthetic throughput in rps.
	DummyThroughputMin = 100.0
	DummyThroughputMax = 2000.0
)

// Compile-time interface check.
var _ Backend = (*dummyBackend)(nil)

// dummyBackend derives synthetic metrics without spawning a process.
// Given a seed it is fully deterministic: identical seeds always
// produce identical metrics. It never fails and never times out.
type dummyBackend struct {
	log logrus.FieldLogger
}

func newDummyBackend(log logrus.FieldLogger) *dummyBackend {
	return &dummyBackend{
		log: log.WithField("backend", cases.BackendDummy),
	}
}

func (b *dummyBackend) Name() string {
	return cases.BackendDummy
}

func (b *dummyBackend) Execute(_ context.Context, c *cases.Case) (*RawOutcome, error) {
	start := time.Now()

	var rng *rand.Rand
	if c.Seed != nil {
		rng = rand.New(rand.NewSource(*c.Seed))
	} else {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	p95 := DummyP95Min + rng.Float64()*(DummyP95Max-DummyP95Min)
	p99 := p95 * DummyP99Factor
	throughput := DummyThroughputMin + rng.Float64()*(DummyThroughputMax-DummyThroughputMin)

	// Emit the metrics the same way a real command would, so the dummy
	// backend exercises the normal extraction path.
	var out strings.Builder

	fmt.Fprintf(&out, "p95=%g p99=%g throughput_rps=%g errors=0\n", p95, p99, throughput)

	return &RawOutcome{
		ExitCode: 0,
		Stdout:   out.String(),
		Elapsed:  time.Since(start),
	}, nil
}
