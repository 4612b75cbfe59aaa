package otp

import (
	"context"
	"time"
)

// Countdown streams the whole seconds left on the live challenge, rounded
// up so that zero is only shown once the challenge has expired. The channel
// emits on change and ends with 0 at expiry. It closes without a final value
// when the challenge is consumed or dropped, and when ctx is done.
func (f *Flow) Countdown(ctx context.Context, tick time.Duration) <-chan int {
	if tick <= 0 {
		tick = time.Second
	}
	out := make(chan int, 1)
	go func() {
		defer close(out)
		t := time.NewTicker(tick)
		defer t.Stop()
		last := -1
		for {
			secs, live := f.countdownValue()
			if !live {
				return
			}
			if secs != last {
				select {
				case out <- secs:
				case <-ctx.Done():
					return
				}
				last = secs
			}
			if secs == 0 {
				return
			}
			select {
			case <-t.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (f *Flow) countdownValue() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expireLocked()
	switch {
	case f.challenge != nil:
		left := f.challenge.Remaining(f.now())
		return int((left + time.Second - 1) / time.Second), true
	case f.state == StateExpired:
		return 0, true
	default:
		return 0, false
	}
}
