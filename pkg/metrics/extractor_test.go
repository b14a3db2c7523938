package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		stderr string
		want   map[string]float64
	}{
		{
			name:   "key=value tokens",
			stdout: "p95=0.031 p99=0.047 throughput_rps=950 errors=0",
			want: map[string]float64{
				"p95": 0.031, "p99": 0.047, "throughput_rps": 950, "errors": 0,
			},
		},
		{
			name:   "non-numeric values skipped",
			stdout: "p95=0.1 status=ok =5 bare",
			want:   map[string]float64{"p95": 0.1},
		},
		{
			name:   "stderr contributes too",
			stdout: "p95=0.1",
			stderr: "errors=2",
			want:   map[string]float64{"p95": 0.1, "errors": 2},
		},
		{
			name:   "json object",
			stdout: `{"p95": 0.02, "throughput_rps": 1200, "label": "x"}`,
			want:   map[string]float64{"p95": 0.02, "throughput_rps": 1200},
		},
		{
			name:   "json wins over tokens",
			stdout: "p95=0.9\n" + `{"p95": 0.02}`,
			want:   map[string]float64{"p95": 0.02},
		},
		{
			name:   "json numeric string coerced",
			stdout: `{"p95": "0.05"}`,
			want:   map[string]float64{"p95": 0.05},
		},
		{
			name:   "malformed json falls back to tokens",
			stdout: "p95=0.1 {not json",
			want:   map[string]float64{"p95": 0.1},
		},
		{
			name:   "no metrics",
			stdout: "all done",
			want:   map[string]float64{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.stdout, tt.stderr))
		})
	}
}
