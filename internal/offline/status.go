package offline

import "sync"

// Status is the observable sync health of the engine.
type Status struct {
	IsOnline     bool   `json:"isOnline"`
	QueueLength  int    `json:"queueLength"`
	IsSyncing    bool   `json:"isSyncing"`
	LastSyncedAt string `json:"lastSyncedAt,omitempty"`
	LastError    string `json:"lastError,omitempty"`
}

// Broadcaster holds the current Status and fans changes out to
// subscribers. Listeners are called outside the lock in subscription
// order.
type Broadcaster struct {
	mu        sync.Mutex
	status    Status
	nextID    int
	listeners map[int]func(Status)
}

// NewBroadcaster creates a Broadcaster with an initial snapshot.
func NewBroadcaster(initial Status) *Broadcaster {
	return &Broadcaster{
		status:    initial,
		listeners: make(map[int]func(Status)),
	}
}

// Subscribe registers fn, immediately delivers the current snapshot, and
// returns a function that removes the subscription.
func (b *Broadcaster) Subscribe(fn func(Status)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	current := b.status
	b.mu.Unlock()

	fn(current)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		delete(b.listeners, id)
	}
}

// Snapshot returns the current status.
func (b *Broadcaster) Snapshot() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.status
}

// Update applies fn to the status and notifies every subscriber.
func (b *Broadcaster) Update(fn func(*Status)) {
	b.mu.Lock()
	fn(&b.status)
	current := b.status

	fns := make([]func(Status), 0, len(b.listeners))
	for id := 0; id < b.nextID; id++ {
		if l, ok := b.listeners[id]; ok {
			fns = append(fns, l)
		}
	}
	b.mu.Unlock()

	for _, l := range fns {
		l(current)
	}
}
