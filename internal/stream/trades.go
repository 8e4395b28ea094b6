package stream

import (
	"sync"

	"cfdfeed/models"
)

// tradeBuffer is a fixed-capacity ring of raw trade frames. Pushing past
// capacity overwrites the oldest entry.
type tradeBuffer struct {
	mu    sync.RWMutex
	items []models.TradeRecord
	head  int // slot of the newest entry
	size  int
}

func newTradeBuffer(capacity int) *tradeBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &tradeBuffer{
		items: make([]models.TradeRecord, capacity),
		head:  capacity - 1,
	}
}

func (b *tradeBuffer) Push(rec models.TradeRecord) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.head = (b.head + 1) % len(b.items)
	b.items[b.head] = rec
	if b.size < len(b.items) {
		b.size++
	}
	return b.size
}

// Snapshot returns the buffered trades newest first.
func (b *tradeBuffer) Snapshot() []models.TradeRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]models.TradeRecord, b.size)
	n := len(b.items)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.head-i+n)%n]
	}
	return out
}

func (b *tradeBuffer) Latest() (models.TradeRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return "", false
	}
	return b.items[b.head], true
}

func (b *tradeBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}
