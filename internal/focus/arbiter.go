package focus

import "sync"

// InProcessArbiter is a single-winner arbiter for hosts without a platform
// focus service. A new request preempts the current holder with Loss;
// transient consumers are modelled with BeginTransient/EndTransient.
type InProcessArbiter struct {
	mu       sync.Mutex
	nextID   int
	holderID int
	listener func(Event)
}

// NewInProcessArbiter creates an arbiter with no current holder.
func NewInProcessArbiter() *InProcessArbiter {
	return &InProcessArbiter{}
}

// Request grants focus, preempting any current holder.
func (a *InProcessArbiter) Request(listener func(Event)) (Grant, bool) {
	a.mu.Lock()
	preempted := a.listener
	a.nextID++
	id := a.nextID
	a.holderID = id
	a.listener = listener
	a.mu.Unlock()

	if preempted != nil {
		preempted(Loss)
	}
	return &inProcessGrant{arbiter: a, id: id}, true
}

// BeginTransient signals the holder that a short-lived consumer needs the
// device.
func (a *InProcessArbiter) BeginTransient() {
	a.mu.Lock()
	l := a.listener
	a.mu.Unlock()
	if l != nil {
		l(TransientLoss)
	}
}

// EndTransient signals the holder that the transient consumer is done.
func (a *InProcessArbiter) EndTransient() {
	a.mu.Lock()
	l := a.listener
	a.mu.Unlock()
	if l != nil {
		l(Gain)
	}
}

// release clears the holder if the grant is still current.
func (a *InProcessArbiter) release(id int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.holderID == id {
		a.holderID = 0
		a.listener = nil
	}
}

type inProcessGrant struct {
	arbiter *InProcessArbiter
	id      int
	once    sync.Once
}

func (g *inProcessGrant) Release() {
	g.once.Do(func() { g.arbiter.release(g.id) })
}
