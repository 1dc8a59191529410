package classifier

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// window is a fixed-size ring of arrival observations for one
// destination. Oldest entries are overwritten once the ring is full,
// so memory per destination is bounded by the configured sample count.
type window struct {
	arrivals []time.Time
	next     int
	filled   bool
}

func newWindow(size int) *window {
	return &window{arrivals: make([]time.Time, size)}
}

func (w *window) push(ts time.Time) {
	w.arrivals[w.next] = ts
	w.next++
	if w.next == len(w.arrivals) {
		w.next = 0
		w.filled = true
	}
}

// ordered returns the samples oldest first.
func (w *window) ordered() []time.Time {
	if !w.filled {
		return append([]time.Time{}, w.arrivals[:w.next]...)
	}
	out := make([]time.Time, 0, len(w.arrivals))
	out = append(out, w.arrivals[w.next:]...)
	return append(out, w.arrivals[:w.next]...)
}

// rate returns observations per second across the given samples, zero
// when there are too few samples to tell.
func rate(samples []time.Time) float64 {
	if len(samples) < 2 {
		return 0
	}
	span := samples[len(samples)-1].Sub(samples[0]).Seconds()
	if span <= 0 {
		return 0
	}
	return float64(len(samples)-1) / span
}

// destinationWindows tracks per-destination arrival windows, bounded
// both per destination (ring size) and across destinations (LRU).
type destinationWindows struct {
	mu         sync.Mutex
	cache      *lru.Cache
	windowSize int
}

func newDestinationWindows(maxDestinations, windowSize int) (*destinationWindows, error) {
	cache, err := lru.New(maxDestinations)
	if err != nil {
		return nil, err
	}
	return &destinationWindows{cache: cache, windowSize: windowSize}, nil
}

// observe records an arrival and returns the destination's velocity
// (arrivals per second) and acceleration (velocity change between the
// older and the recent half of the window).
func (d *destinationWindows) observe(dest string, ts time.Time) (velocity, acceleration float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var w *window
	if cached, ok := d.cache.Get(dest); ok {
		w = cached.(*window)
	} else {
		w = newWindow(d.windowSize)
		d.cache.Add(dest, w)
	}
	w.push(ts)

	samples := w.ordered()
	velocity = rate(samples)
	if len(samples) >= 4 {
		mid := len(samples) / 2
		acceleration = rate(samples[mid:]) - rate(samples[:mid])
	}
	return velocity, acceleration
}

// gasWindow is a bounded ring of recently observed gas prices across
// all destinations, used to rank an intent's bid against the current
// traffic.
type gasWindow struct {
	mu     sync.Mutex
	prices []float64
	next   int
	filled bool
}

func newGasWindow(size int) *gasWindow {
	return &gasWindow{prices: make([]float64, size)}
}

func (g *gasWindow) observe(price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices[g.next] = price
	g.next++
	if g.next == len(g.prices) {
		g.next = 0
		g.filled = true
	}
}

func (g *gasWindow) samples() []float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.filled {
		return append([]float64{}, g.prices[:g.next]...)
	}
	return append([]float64{}, g.prices...)
}
