package job

import (
	"fmt"
	"time"
)

// FormatDuration は経過時間を "2h 5m 10s" / "5m 10s" / "10s" の形式に整形する。
// 上位の単位が0の場合は省略し、秒未満は切り捨てる。負の値は "0s" とする。
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
