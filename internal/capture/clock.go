package capture

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// tickerC is nil-safe so the event loop can select on timers that are not running.
func tickerC(t clockwork.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.Chan()
}

func timerC(t clockwork.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.Chan()
}
