package statusupdate

import (
	"sync"

	"github.com/eapache/queue"
)

// lane is the FIFO, exception ring and dead-letter buffer of one kind.
type lane struct {
	kind           Kind
	exceptionLimit int

	mu          sync.Mutex
	pending     *queue.Queue
	exceptions  *queue.Queue
	deadLetters []*UpdateItem
	inFlight    int
	persisted   uint64
	failures    uint64

	wake chan struct{}
}

func newLane(kind Kind, exceptionLimit int) *lane {
	return &lane{
		kind:           kind,
		exceptionLimit: exceptionLimit,
		pending:        queue.New(),
		exceptions:     queue.New(),
		wake:           make(chan struct{}, 1),
	}
}

func (l *lane) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *lane) push(item *UpdateItem) {
	l.mu.Lock()
	l.pending.Add(item)
	l.mu.Unlock()

	l.signal()
}

// pop removes the head item and marks it in flight.
func (l *lane) pop() (*UpdateItem, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pending.Length() == 0 {
		return nil, false
	}

	l.inFlight++

	return l.pending.Remove().(*UpdateItem), true
}

func (l *lane) succeeded() {
	l.mu.Lock()
	l.inFlight--
	l.persisted++
	l.mu.Unlock()
}

// requeue returns an item to the tail without counting an attempt.
func (l *lane) requeue(item *UpdateItem) {
	l.mu.Lock()
	l.inFlight--
	l.pending.Add(item)
	l.mu.Unlock()

	l.signal()
}

// failed records the failure and either re-enqueues the item at the tail or
// moves it to the dead-letter buffer. It reports whether it was dead-lettered;
// a dead-lettered item stays in flight until release.
func (l *lane) failed(item *UpdateItem, failure Failure) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.failures++

	if l.exceptions.Length() >= l.exceptionLimit {
		l.exceptions.Remove()
	}

	l.exceptions.Add(failure)

	if item.RetryAttempts < MaxRetryAttempts {
		l.inFlight--
		l.pending.Add(item)
		l.signal()

		return false
	}

	l.deadLetters = append(l.deadLetters, item)

	return true
}

func (l *lane) release() {
	l.mu.Lock()
	l.inFlight--
	l.mu.Unlock()
}

func (l *lane) redrive() int {
	l.mu.Lock()

	n := len(l.deadLetters)
	for _, item := range l.deadLetters {
		item.RetryAttempts = 0
		l.pending.Add(item)
	}

	l.deadLetters = nil
	l.mu.Unlock()

	if n > 0 {
		l.signal()
	}

	return n
}

func (l *lane) idle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.pending.Length() == 0 && l.inFlight == 0
}

func (l *lane) depth() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.pending.Length()
}

func (l *lane) exceptionList() []Failure {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Failure, l.exceptions.Length())
	for i := range out {
		out[i] = l.exceptions.Get(i).(Failure)
	}

	return out
}

func (l *lane) deadLetterList() []UpdateItem {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]UpdateItem, len(l.deadLetters))
	for i, item := range l.deadLetters {
		out[i] = item.clone()
	}

	return out
}

func (l *lane) stats() KindStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return KindStats{
		QueueDepth:  l.pending.Length(),
		InFlight:    l.inFlight,
		Exceptions:  l.exceptions.Length(),
		DeadLetters: len(l.deadLetters),
		Persisted:   l.persisted,
		Failures:    l.failures,
	}
}
