package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Schedule(t *testing.T) {
	window := &Bounds{Min: 0.8, Max: 1.2}
	policy := RetryPolicy{NobjStep: 50, MaxAttempts: 4}

	tests := []struct {
		name   string
		nobj   int
		scale  *Bounds
		nA, nB int
		want   []Attempt
	}{
		{
			name: "window then relax then grow",
			nobj: 20, scale: window, nA: 500, nB: 400,
			want: []Attempt{{20, window}, {20, nil}, {70, nil}, {120, nil}},
		},
		{
			name: "no window skips the duplicate relax step",
			nobj: 20, scale: nil, nA: 500, nB: 400,
			want: []Attempt{{20, nil}, {70, nil}, {120, nil}},
		},
		{
			name: "small sets stop once covered",
			nobj: 20, scale: window, nA: 15, nB: 18,
			want: []Attempt{{20, window}, {20, nil}},
		},
		{
			name: "stops after first growth that covers both sets",
			nobj: 20, scale: nil, nA: 60, nB: 30,
			want: []Attempt{{20, nil}, {70, nil}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.Schedule(tt.nobj, tt.scale, tt.nA, tt.nB))
		})
	}
}

func TestRetryPolicy_ScheduleBounded(t *testing.T) {
	for attempts := 1; attempts <= 6; attempts++ {
		p := RetryPolicy{NobjStep: 10, MaxAttempts: attempts}
		got := p.Schedule(5, &Bounds{Min: 1, Max: 2}, 1000, 1000)
		assert.Len(t, got, attempts)
	}
	assert.Len(t, RetryPolicy{}.Schedule(5, nil, 1000, 1000), 1, "zero policy makes one attempt")
}
