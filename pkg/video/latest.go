// ABOUTME: Single-slot mailbox holding the newest frame
// ABOUTME: Overwrites unconsumed frames and counts the overwrites
package video

import (
	"image"
	"sync"
)

// Stats counts frames seen by a background reader
type Stats struct {
	Received    uint64
	Overwritten uint64
}

// latest keeps only the newest frame. Writers never block.
type latest struct {
	mu       sync.Mutex
	img      image.Image
	consumed bool
	err      error
	stats    Stats
}

func (l *latest) put(img image.Image) {
	l.mu.Lock()
	if l.img != nil && !l.consumed {
		l.stats.Overwritten++
	}
	l.img = img
	l.consumed = false
	l.stats.Received++
	l.mu.Unlock()
}

// fail records a terminal reader error returned by later get calls
func (l *latest) fail(err error) {
	l.mu.Lock()
	if l.err == nil {
		l.err = err
	}
	l.mu.Unlock()
}

func (l *latest) get() (image.Image, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if l.img == nil {
		return nil, ErrNotReady
	}
	l.consumed = true
	return l.img, nil
}

func (l *latest) size() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.img == nil {
		return 0, 0
	}
	b := l.img.Bounds()
	return b.Dx(), b.Dy()
}

// Stats returns reader counters
func (l *latest) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}
