package push

import (
	"fmt"
	"sync"
	"time"
)

// Window is one sliding-window rule.
type Window struct {
	Span  time.Duration
	Limit int
}

// SlidingWindow counts sends per key against several windows at once.
type SlidingWindow struct {
	mu      sync.Mutex
	windows []Window
	sends   map[string][]time.Time
	now     func() time.Time
}

func NewSlidingWindow(windows ...Window) *SlidingWindow {
	return &SlidingWindow{windows: windows, sends: map[string][]time.Time{}, now: time.Now}
}

// Reserve records a send for key if every window has room. Otherwise it
// returns how long until the tightest breached window frees a slot.
func (l *SlidingWindow) Reserve(key string) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	longest := time.Duration(0)
	for _, w := range l.windows {
		if w.Span > longest {
			longest = w.Span
		}
	}

	kept := l.sends[key][:0]
	for _, t := range l.sends[key] {
		if now.Sub(t) < longest {
			kept = append(kept, t)
		}
	}
	l.sends[key] = kept

	for _, w := range l.windows {
		var inWindow []time.Time
		for _, t := range kept {
			if now.Sub(t) < w.Span {
				inWindow = append(inWindow, t)
			}
		}
		if len(inWindow) >= w.Limit {
			wait := w.Span - now.Sub(inWindow[0])
			return wait, fmt.Errorf("limit of %d per %s reached", w.Limit, w.Span)
		}
	}

	l.sends[key] = append(kept, now)
	return 0, nil
}
