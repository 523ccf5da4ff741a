package ledger

import "sync"

// feed fans appended blocks out to subscribers. Delivery never blocks the
// appender: a subscriber whose buffer is full misses the block.
type feed struct {
	mu      sync.Mutex
	subs    map[uint64]chan Block
	next    uint64
	closed  bool
	dropped uint64
	onDrop  func()
}

func newFeed(onDrop func()) *feed {
	return &feed{subs: make(map[uint64]chan Block), onDrop: onDrop}
}

func (f *feed) subscribe(buffer int) (<-chan Block, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Block, buffer)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	id := f.next
	f.next++
	f.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if sub, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(sub)
			}
		})
	}
}

func (f *feed) publish(b *Block) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- *b.Clone():
		default:
			f.dropped++
			if f.onDrop != nil {
				f.onDrop()
			}
		}
	}
}

func (f *feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}

func (f *feed) droppedCount() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}
