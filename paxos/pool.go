package paxos

import "sync"

// Pool holds the proposer's open and reserved instance queues (spec §4.4
// "Instance pool"). It is the backpressure point described in spec §5:
// once Len() reaches limit, the "not full" signal stops firing
// and the Phase-1 batcher blocks until instances drain via Phase 2.
//
// Pool is safe for concurrent use: the batcher, reserved worker and client
// worker described in spec §4.4 each run as their own cooperative task and
// touch the same queues.
type Pool struct {
	mu    sync.Mutex
	open  []InstanceId
	resvd []InstanceId

	limit     int
	notFull   chan struct{}
	openReady chan struct{}
	resvReady chan struct{}
	instances map[InstanceId]*ProposerInstance
}

// NewPool constructs an empty pool bounded by limit open+reserved
// instances.
func NewPool(limit int) *Pool {
	p := &Pool{
		limit:     limit,
		notFull:   make(chan struct{}, 1),
		openReady: make(chan struct{}, 1),
		resvReady: make(chan struct{}, 1),
		instances: make(map[InstanceId]*ProposerInstance),
	}
	p.signalNotFullLocked()
	return p
}

func (p *Pool) signalNotFullLocked() {
	if len(p.open)+len(p.resvd) < p.limit {
		select {
		case p.notFull <- struct{}{}:
		default:
		}
	}
}

// NotFull is closed-over by the batcher's suspension point. It holds at
// most one pending signal, raised when the pool is created and again by
// each pop that leaves the pool below limit.
func (p *Pool) NotFull() <-chan struct{} {
	return p.notFull
}

// Track registers a ProposerInstance with the pool so later operations can
// look it up by id.
func (p *Pool) Track(inst *ProposerInstance) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instances[inst.InstanceId] = inst
}

// Get returns the tracked instance, if any.
func (p *Pool) Get(id InstanceId) (*ProposerInstance, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	inst, ok := p.instances[id]
	return inst, ok
}

// Forget drops an instance from tracking (e.g. on FORGOTTEN or CLOSED).
func (p *Pool) Forget(id InstanceId) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.instances, id)
}

// OpenReady receives whenever the open queue holds at least one instance,
// the client worker's suspension point (spec §4.4 "Client worker").
func (p *Pool) OpenReady() <-chan struct{} {
	return p.openReady
}

// ReservedReady receives whenever the reserved queue holds at least one
// instance, the reserved worker's suspension point (spec §4.4 "Reserved
// worker").
func (p *Pool) ReservedReady() <-chan struct{} {
	return p.resvReady
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// PushOpen enqueues id as open (safe for a free client-value choice).
func (p *Pool) PushOpen(id InstanceId) {
	p.mu.Lock()
	p.open = append(p.open, id)
	p.mu.Unlock()
	signal(p.openReady)
}

// PopOpen dequeues the oldest open instance id, if any.
func (p *Pool) PopOpen() (InstanceId, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.open) == 0 {
		return 0, false
	}
	id := p.open[0]
	p.open = p.open[1:]
	p.signalNotFullLocked()
	return id, true
}

// PushReserved enqueues id as reserved (a previous vote was found for it).
func (p *Pool) PushReserved(id InstanceId) {
	p.mu.Lock()
	p.resvd = append(p.resvd, id)
	p.mu.Unlock()
	signal(p.resvReady)
}

// PopReserved dequeues the oldest reserved instance id, if any.
func (p *Pool) PopReserved() (InstanceId, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.resvd) == 0 {
		return 0, false
	}
	id := p.resvd[0]
	p.resvd = p.resvd[1:]
	p.signalNotFullLocked()
	return id, true
}

// Len reports the combined open+reserved occupancy, used for status/metrics
// reporting and tests.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.open) + len(p.resvd)
}
