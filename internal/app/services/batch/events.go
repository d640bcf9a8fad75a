package batch

import "sync"

// Event types published over the batch event stream.
const (
	EventStarted  = "started"
	EventEntry    = "entry"
	EventFinished = "finished"
)

// Event describes batch progress. Entry events carry per-store outcome;
// started and finished events carry only batch-level fields.
type Event struct {
	Type        string `json:"type"`
	BatchID     string `json:"batch_id"`
	Endpoint    string `json:"endpoint"`
	AccountName string `json:"account_name,omitempty"`
	StoreID     string `json:"store_id,omitempty"`
	OK          bool   `json:"ok,omitempty"`
	ErrorKind   string `json:"error_kind,omitempty"`
	Completed   int    `json:"completed"`
	Total       int    `json:"total"`
	Failed      int    `json:"failed,omitempty"`
	Cancelled   bool   `json:"cancelled,omitempty"`
}

// Broadcaster fans events out to subscribers. Publishing never blocks; a
// subscriber that falls behind loses events rather than stalling a batch.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener with the given buffer. The returned stop
// function unregisters it and closes the channel.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	b.mu.Lock()
	id := b.next
	b.next++
	ch := make(chan Event, buffer)
	b.subs[id] = ch
	b.mu.Unlock()

	stop := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, stop
}

// Publish delivers ev to every subscriber that has room.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
