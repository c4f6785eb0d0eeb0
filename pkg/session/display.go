package session

import (
	"fmt"
	"time"
)

// DisplayClock renders a remaining duration as "M:SS" for the warning
// countdown. Seconds round up so the display never shows 0:00 while time
// actually remains; 0:00 appears exactly at expiry.
func DisplayClock(remaining time.Duration) string {
	if remaining < 0 {
		remaining = 0
	}
	secs := int64((remaining + time.Second - 1) / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
