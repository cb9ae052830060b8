package retrypolicy

import (
	"testing"
	"time"
)

func TestAllow(t *testing.T) {
	p := Default()

	tests := []struct {
		retryCount int
		want       bool
	}{
		{0, true},
		{1, true},
		{2, true}, // max_retries - 1: still allowed
		{3, false},
		{4, false},
	}

	for _, tt := range tests {
		if got := p.Allow(tt.retryCount); got != tt.want {
			t.Errorf("Allow(%d) = %v, want %v", tt.retryCount, got, tt.want)
		}
	}
}

func TestDelay_ExponentialWithCap(t *testing.T) {
	p := Default()

	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 5 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{4, 60 * time.Second}, // 80s capped
		{10, 60 * time.Second},
	}

	for _, tt := range tests {
		if got := p.Delay(tt.retryCount); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.retryCount, got, tt.want)
		}
	}
}

func TestCustomPolicy(t *testing.T) {
	p := Policy{
		MaxRetries: 1,
		BaseDelay:  time.Second,
		Multiplier: 10,
		MaxDelay:   3 * time.Second,
	}

	if !p.Allow(0) || p.Allow(1) {
		t.Error("custom policy allows exactly one retry")
	}
	if got := p.Delay(1); got != 3*time.Second {
		t.Errorf("Delay(1) = %v, want cap 3s", got)
	}
}
