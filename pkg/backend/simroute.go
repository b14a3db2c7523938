package backend

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/strataregula/doe-runner/pkg/cases"
)

// Compile-time interface check.
var _ Backend = (*simrouteBackend)(nil)

// simrouteBackend delegates to an external simroute simulation
// invocation. It is a thin specialization of the shell backend: the
// command template is expanded with scenario/seed forwarding and the
// process contract (timeout, process-group kill, exit codes) is
// identical.
type simrouteBackend struct {
	log   logrus.FieldLogger
	shell *shellBackend
}

func newSimrouteBackend(log logrus.FieldLogger, shell *shellBackend) *simrouteBackend {
	return &simrouteBackend{
		log:   log.WithField("backend", cases.BackendSimroute),
		shell: shell,
	}
}

func (b *simrouteBackend) Name() string {
	return cases.BackendSimroute
}

func (b *simrouteBackend) Execute(ctx context.Context, c *cases.Case) (*RawOutcome, error) {
	command := ExpandTemplate(c.CmdTemplate, c)

	b.log.WithField("case_id", c.ID).Debug("Invoking simulation")

	return b.shell.run(ctx, command, time.Duration(c.TimeoutS)*time.Second)
}
