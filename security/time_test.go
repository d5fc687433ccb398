package security

import (
	"testing"
	"time"
)

func TestIsExpiredAt(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		grace     time.Duration
		want      bool
	}{
		{"zero expiry", time.Time{}, 0, false},
		{"in the future", now.Add(time.Hour), 0, false},
		{"just expired, no grace", now.Add(-time.Second), 0, true},
		{"just expired, within grace", now.Add(-3 * time.Second), 5 * time.Second, false},
		{"expired beyond grace", now.Add(-6 * time.Second), 5 * time.Second, true},
		{"exactly at expiry", now, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpiredAt(tt.expiresAt, now, tt.grace); got != tt.want {
				t.Errorf("IsExpiredAt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsTokenExpired(t *testing.T) {
	if IsTokenExpired(time.Now().Add(time.Minute)) {
		t.Error("future token reported expired")
	}
	if IsTokenExpired(time.Now().Add(-2 * time.Second)) {
		t.Error("token inside the default grace period reported expired")
	}
	if !IsTokenExpired(time.Now().Add(-time.Minute)) {
		t.Error("token a minute past expiry not reported expired")
	}
}
