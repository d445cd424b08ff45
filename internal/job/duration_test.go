package job

import (
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want string
	}{
		{"秒のみ", 45 * time.Second, "45s"},
		{"分と秒", 125 * time.Second, "2m 5s"},
		{"時分秒", 3725 * time.Second, "1h 2m 5s"},
		{"ゼロ", 0, "0s"},
		{"秒未満は切り捨て", 1500 * time.Millisecond, "1s"},
		{"分ちょうど", 5 * time.Minute, "5m 0s"},
		{"時間ちょうど", 2 * time.Hour, "2h 0m 0s"},
		{"例示の値", 2*time.Hour + 5*time.Minute + 10*time.Second, "2h 5m 10s"},
		{"負の値", -3 * time.Second, "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatDuration(tt.in); got != tt.want {
				t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
