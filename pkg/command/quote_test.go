package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "''"},
		{"/scratch/user/gosbatch-jobs/demo_20260101_000000", "/scratch/user/gosbatch-jobs/demo_20260101_000000"},
		{"NP=4", "NP=4"},
		{"has space", "'has space'"},
		{"it's", `'it'"'"'s'`},
		{"$(rm -rf /)", "'$(rm -rf /)'"},
		{"a;b", "'a;b'"},
		{"job_dir/*.out", "'job_dir/*.out'"},
		{"user@host:22", "user@host:22"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Quote(tt.in))
		})
	}
}
