package node

import "time"

// StartupWindow is how long Start keeps probing before giving up.
const StartupWindow = 5 * time.Minute

// RetryDelay returns how long to sleep after a failed probe, given the time
// elapsed since probing began. ok is false once the startup window is spent.
func RetryDelay(elapsed time.Duration) (delay time.Duration, ok bool) {
	switch {
	case elapsed < 10*time.Second:
		return 250 * time.Millisecond, true
	case elapsed < 20*time.Second:
		return time.Second, true
	case elapsed < 60*time.Second:
		return 10 * time.Second, true
	case elapsed < StartupWindow:
		return 15 * time.Second, true
	default:
		return 0, false
	}
}
