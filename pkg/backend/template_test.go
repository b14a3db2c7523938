package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/strataregula/doe-runner/pkg/cases"
)

func TestExpandTemplate(t *testing.T) {
	seed := int64(7)

	c := &cases.Case{
		ID:       "exp_001",
		TimeoutS: 30,
		Seed:     &seed,
		Params: map[string]string{
			"param_scenario": "baseline",
			"param_rps":      "100",
		},
	}

	tests := []struct {
		name string
		tpl  string
		want string
	}{
		{
			name: "built-ins",
			tpl:  "run --id {case_id} --seed {seed} --timeout {timeout_s}",
			want: "run --id exp_001 --seed 7 --timeout 30",
		},
		{
			name: "full param key",
			tpl:  "run {param_scenario}",
			want: "run baseline",
		},
		{
			name: "stripped param alias",
			tpl:  "run --scenario {scenario} --rps {rps}",
			want: "run --scenario baseline --rps 100",
		},
		{
			name: "unknown placeholder left intact",
			tpl:  "run {nope}",
			want: "run {nope}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandTemplate(tt.tpl, c))
		})
	}
}

func TestExpandTemplateBuiltinsWinOverParams(t *testing.T) {
	// A param named param_seed must not shadow the built-in {seed}.
	seed := int64(1)

	c := &cases.Case{
		ID:     "exp_001",
		Seed:   &seed,
		Params: map[string]string{"param_seed": "999"},
	}

	assert.Equal(t, "1", ExpandTemplate("{seed}", c))
	assert.Equal(t, "999", ExpandTemplate("{param_seed}", c))
}

func TestExpandTemplateNilSeed(t *testing.T) {
	c := &cases.Case{ID: "exp_001"}

	assert.Equal(t, "seed=", ExpandTemplate("seed={seed}", c))
}
