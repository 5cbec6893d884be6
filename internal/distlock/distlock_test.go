package distlock

import "testing"

// TestLockKeyFormat checks the Redis key namespace without connecting to a
// real Redis instance — Dial itself requires a live Ping and is exercised
// against a real backend in integration environments instead.
func TestLockKeyFormat(t *testing.T) {
	tests := []struct {
		hex  string
		want string
	}{
		{"abc123", "scarb-macro-host:buildlock:abc123"},
		{"", "scarb-macro-host:buildlock:"},
	}

	for _, tt := range tests {
		t.Run(tt.hex, func(t *testing.T) {
			if got := lockKey(tt.hex); got != tt.want {
				t.Errorf("lockKey(%q) = %q, want %q", tt.hex, got, tt.want)
			}
		})
	}
}
