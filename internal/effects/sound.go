package effects

import (
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// BellSound rings the terminal bell. Bursts closer together than the
// configured gap collapse into one ring.
type BellSound struct {
	mu      sync.Mutex
	w       io.Writer
	limiter *rate.Limiter
}

// NewBellSound writes BEL to w at most once per gap.
func NewBellSound(w io.Writer, gap time.Duration) *BellSound {
	if gap <= 0 {
		gap = 500 * time.Millisecond
	}
	return &BellSound{
		w:       w,
		limiter: rate.NewLimiter(rate.Every(gap), 1),
	}
}

// Play rings once, twice at full volume.
func (b *BellSound) Play(volume float64) {
	if volume <= 0 || !b.limiter.Allow() {
		return
	}
	rings := 1
	if volume >= 1 {
		rings = 2
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	io.WriteString(b.w, strings.Repeat("\a", rings))
}

// MutedSound never plays
type MutedSound struct{}

// Play does nothing.
func (MutedSound) Play(float64) {}
