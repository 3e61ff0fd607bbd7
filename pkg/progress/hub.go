package progress

import "sync"

// DefaultSubscriberBuffer is the per-subscriber channel size.
const DefaultSubscriberBuffer = 32

// closedJobsCap bounds how many finished jobs the hub remembers in order to
// drop updates that trail their terminal update.
const closedJobsCap = 1024

// Hub fans updates out to per-job subscribers.
//
// Delivery is non-blocking: a subscriber whose buffer is full misses the
// update. Updates arriving out of order (Seq not above the last delivered
// Seq for the job) are dropped, so subscribers see progress that never goes
// backwards. After a terminal update the job's sequence state is released
// and the job is remembered, in a bounded set, as closed.
type Hub struct {
	mu      sync.Mutex
	buffer  int
	clients map[string]map[chan Update]struct{}
	lastSeq map[string]uint64
	closed  map[string]struct{}
	order   []string
	dropped uint64
}

// NewHub creates a Hub. buffer <= 0 uses DefaultSubscriberBuffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Hub{
		buffer:  buffer,
		clients: make(map[string]map[chan Update]struct{}),
		lastSeq: make(map[string]uint64),
		closed:  make(map[string]struct{}),
	}
}

// Subscribe registers a listener for jobID. The returned function
// unsubscribes and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(jobID string) (<-chan Update, func()) {
	ch := make(chan Update, h.buffer)

	h.mu.Lock()
	if h.clients[jobID] == nil {
		h.clients[jobID] = make(map[chan Update]struct{})
	}
	h.clients[jobID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			if subs, ok := h.clients[jobID]; ok {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(h.clients, jobID)
				}
			}
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, unsub
}

// Publish delivers u to the job's subscribers.
func (h *Hub) Publish(u Update) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, done := h.closed[u.JobID]; done {
		return
	}
	if u.Seq != 0 {
		if last, ok := h.lastSeq[u.JobID]; ok && u.Seq <= last {
			return
		}
		h.lastSeq[u.JobID] = u.Seq
	}
	if u.Terminal {
		h.close(u.JobID)
	}

	// Sends happen under the lock so unsubscribe cannot close a channel
	// mid-send; they never block.
	for ch := range h.clients[u.JobID] {
		select {
		case ch <- u:
		default:
			h.dropped++
		}
	}
}

// Subscribers returns the number of listeners for jobID.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[jobID])
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// close moves jobID from sequence tracking to the closed set, evicting the
// oldest closed job when the set is full. Callers hold h.mu.
func (h *Hub) close(jobID string) {
	delete(h.lastSeq, jobID)
	if len(h.order) >= closedJobsCap {
		delete(h.closed, h.order[0])
		h.order = h.order[1:]
	}
	h.closed[jobID] = struct{}{}
	h.order = append(h.order, jobID)
}

// Forget clears all ordering state for a job once it is deleted, so a
// later job reusing the id streams from scratch.
func (h *Hub) Forget(jobID string) {
	h.mu.Lock()
	delete(h.lastSeq, jobID)
	delete(h.closed, jobID)
	h.mu.Unlock()
}

// tracked reports how many jobs hold sequence state and how many are
// remembered as closed.
func (h *Hub) tracked() (open, closed int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.lastSeq), len(h.closed)
}
