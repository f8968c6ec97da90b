package ratelimit

import (
	"fmt"
	"time"
)

// ResetSummary is the two ways a reset time is shown next to a model badge.
type ResetSummary struct {
	Relative string `json:"relative"`
	Absolute string `json:"absolute"`
}

// FormatResetSummary describes resetAtMs relative to now. It returns nil when there is
// no reset time. Remaining time is rounded up to the next whole minute.
func FormatResetSummary(resetAtMs *int64, now time.Time) *ResetSummary {
	if resetAtMs == nil {
		return nil
	}
	at := time.UnixMilli(*resetAtMs).In(now.Location())
	summary := &ResetSummary{Absolute: at.Format("15:04")}

	diff := *resetAtMs - now.UnixMilli()
	if diff <= 0 {
		summary.Relative = "reset now"
		return summary
	}

	minutes := (diff + 59_999) / 60_000
	hours := minutes / 60
	minutes %= 60
	if hours > 0 {
		summary.Relative = fmt.Sprintf("reset in %dh %dm", hours, minutes)
	} else {
		summary.Relative = fmt.Sprintf("reset in %dm", minutes)
	}
	return summary
}
