package backoff

import (
	"math/rand"
	"testing"
	"time"
)

func TestComputeFixed(t *testing.T) {
	tests := []struct {
		name    string
		base    time.Duration
		max     time.Duration
		attempt int
		want    time.Duration
	}{
		{"base below max", 500 * time.Millisecond, time.Second, 0, 500 * time.Millisecond},
		{"many attempts", 500 * time.Millisecond, time.Second, 100, 500 * time.Millisecond},
		{"base exceeds max", 2 * time.Second, time.Second, 0, time.Second},
		{"zero base defaults", 0, time.Second, 0, 100 * time.Millisecond},
		{"zero max equals base", 500 * time.Millisecond, 0, 0, 500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(42))
			got := Compute("fixed", tt.base, tt.max, tt.attempt, rng)
			if got != tt.want {
				t.Errorf("Compute(fixed) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComputeLinear(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{"zero attempts", 0, 100 * time.Millisecond},
		{"one attempt", 1, 100 * time.Millisecond},
		{"two attempts", 2, 200 * time.Millisecond},
		{"three attempts", 3, 300 * time.Millisecond},
		{"capped at max", 100, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(42))
			got := Compute("linear", 100*time.Millisecond, time.Second, tt.attempt, rng)
			if got != tt.want {
				t.Errorf("Compute(linear) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComputeExponential(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{"zero attempts", 0, 100 * time.Millisecond},
		{"one attempt", 1, 200 * time.Millisecond},
		{"two attempts", 2, 400 * time.Millisecond},
		{"three attempts", 3, 800 * time.Millisecond},
		{"capped at max", 10, 10 * time.Second},
		{"negative treated as zero", -1, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(42))
			got := Compute("exponential", 100*time.Millisecond, 10*time.Second, tt.attempt, rng)
			if got != tt.want {
				t.Errorf("Compute(exponential) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComputeExpEqualJitter(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		wantMin time.Duration
		wantMax time.Duration
	}{
		{"zero attempts", 0, 50 * time.Millisecond, 100 * time.Millisecond},
		{"one attempt", 1, 100 * time.Millisecond, 200 * time.Millisecond},
		{"two attempts", 2, 200 * time.Millisecond, 400 * time.Millisecond},
		{"capped at max", 20, 5 * time.Second, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(42))
			got := Compute("exp_equal_jitter", 100*time.Millisecond, 10*time.Second, tt.attempt, rng)
			if got < tt.wantMin || got > tt.wantMax {
				t.Errorf("Compute(exp_equal_jitter) = %v, want between %v and %v", got, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestComputeExpFullJitter(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for attempt := 0; attempt < 8; attempt++ {
		got := Compute("exp_full_jitter", 100*time.Millisecond, 10*time.Second, attempt, rng)
		cap := Compute("exponential", 100*time.Millisecond, 10*time.Second, attempt, rng)
		if got < 0 || got > cap {
			t.Errorf("attempt %d: Compute(exp_full_jitter) = %v, want between 0 and %v", attempt, got, cap)
		}
	}
}

func TestComputeUnknownPolicyDefaultsToEqualJitter(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	got := Compute("unknown_policy", 100*time.Millisecond, time.Second, 1, rng)
	if got < 100*time.Millisecond || got > 200*time.Millisecond {
		t.Errorf("Compute(unknown_policy) = %v, want between 100ms and 200ms", got)
	}
}

func TestComputeNilRng(t *testing.T) {
	got := Compute("fixed", 500*time.Millisecond, time.Second, 0, nil)
	if got != 500*time.Millisecond {
		t.Errorf("Compute with nil rng = %v, want 500ms", got)
	}
}

func TestShiftSaturates(t *testing.T) {
	if got := shift(time.Second, 60); got != time.Hour {
		t.Errorf("shift saturated = %v, want %v", got, time.Hour)
	}
}
