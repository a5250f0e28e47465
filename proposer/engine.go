package proposer

import (
	"sync"
	"time"

	"github.com/go-kit/kit/log"

	"ringpaxos.io/server/guid"
	"ringpaxos.io/server/paxos"
	"ringpaxos.io/server/ring"
)

// inflight is the proposer's bookkeeping for one instance currently
// awaiting a Phase-2 completion (spec §4.4 "Phase-2").
type inflight struct {
	ballot         paxos.BallotId
	value          paxos.Value
	hadClientValue bool
	drained        []CommitRecord
	timer          *time.Timer
}

// Engine is the master-side proposer (spec §4.4): it drives the Phase-1
// batcher, reserved worker and client worker as independent loops over a
// shared instance Pool, and owns the commit-piggyback queue.
type Engine struct {
	self int
	n    uint64

	epoch paxos.Epoch

	ring        *ring.Snapshot
	ringChanged <-chan *ring.Configuration

	pool      *paxos.Pool
	ballots   *paxos.BallotGenerator
	transport Transport
	ingest    IngestQueue
	commits   *commitQueue
	onCommit  *CommitNotifier

	batchSize     int
	phase2Timeout time.Duration

	mu      sync.Mutex
	next    paxos.InstanceId
	pending map[paxos.InstanceId]*inflight

	logger log.Logger
	stop   chan struct{}
	done   sync.WaitGroup
}

// Config bundles Engine construction parameters (spec §6 bootstrap
// scalars: batch size, phase-2 timeout).
type Config struct {
	Self          int
	N             uint64
	Epoch         paxos.Epoch
	Ring          *ring.Snapshot
	RingChanged   <-chan *ring.Configuration
	Pool          *paxos.Pool
	Transport     Transport
	Ingest        IngestQueue
	BatchSize     int
	Phase2Timeout time.Duration
	Logger        log.Logger
}

// NewEngine constructs a proposer Engine from cfg.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		self:          cfg.Self,
		n:             cfg.N,
		epoch:         cfg.Epoch,
		ring:          cfg.Ring,
		ringChanged:   cfg.RingChanged,
		pool:          cfg.Pool,
		ballots:       paxos.NewBallotGenerator(uint64(cfg.Self), cfg.N),
		transport:     cfg.Transport,
		ingest:        cfg.Ingest,
		commits:       newCommitQueue(),
		onCommit:      NewCommitNotifier(),
		batchSize:     cfg.BatchSize,
		phase2Timeout: cfg.Phase2Timeout,
		pending:       make(map[paxos.InstanceId]*inflight),
		logger:        cfg.Logger,
		stop:          make(chan struct{}),
	}
}

// OnCommit exposes the commit notifier for value-buffer waiters.
func (e *Engine) OnCommit() *CommitNotifier { return e.onCommit }

// Start launches the batcher, reserved worker and client worker loops.
func (e *Engine) Start() {
	e.done.Add(3)
	go e.runBatcher()
	go e.runReservedWorker()
	go e.runClientWorker()
}

// Stop requests every loop to exit and waits for them to do so.
func (e *Engine) Stop() {
	close(e.stop)
	e.done.Wait()
}

func (e *Engine) logf(msg string, kv ...interface{}) {
	if e.logger != nil {
		e.logger.Log(append([]interface{}{"msg", msg}, kv...)...)
	}
}

// runBatcher implements spec §4.4 "Batcher": wait for pool room, reserve
// the next contiguous range at this host's first ballot, classify the
// results as open or reserved.
func (e *Engine) runBatcher() {
	defer e.done.Done()
	for {
		select {
		case <-e.stop:
			return
		case <-e.pool.NotFull():
		}

		cfg := e.ring.WaitValid(e.ringChanged, e.stop)
		if cfg == nil {
			return
		}
		ballot := e.ballots.First()

		e.mu.Lock()
		lo := e.next
		e.mu.Unlock()
		hi := lo + paxos.InstanceId(e.batchSize)

		reply, err := e.transport.BatchPhase1(e.epoch, cfg.RingId, ballot, lo, hi)
		if err != nil {
			e.logf("batch phase1 failed", "lo", lo, "hi", hi, "error", err)
			continue
		}
		if reply.TooLow {
			e.mu.Lock()
			e.next = reply.RetryIid
			e.mu.Unlock()
			continue
		}

		reserved := make(map[paxos.InstanceId]bool, len(reply.Reserved))
		for _, id := range reply.Reserved {
			reserved[id] = true
		}
		for id := lo; id < hi; id++ {
			inst := paxos.NewProposerInstance(id)
			inst.ToP1Pending(ballot)
			e.pool.Track(inst)
			if reserved[id] {
				e.pool.PushReserved(id)
			} else {
				inst.ToP1Open(ballot)
				e.pool.PushOpen(id)
			}
		}

		e.mu.Lock()
		e.next = hi
		e.mu.Unlock()
	}
}

// runReservedWorker implements spec §4.4 "Reserved worker".
func (e *Engine) runReservedWorker() {
	defer e.done.Done()
	for {
		select {
		case <-e.stop:
			return
		case <-e.pool.ReservedReady():
		}

		for {
			id, ok := e.pool.PopReserved()
			if !ok {
				break
			}
			e.handleReserved(id)
		}
	}
}

func (e *Engine) handleReserved(id paxos.InstanceId) {
	inst, ok := e.pool.Get(id)
	if !ok {
		return
	}
	cfg := e.ring.WaitValid(e.ringChanged, e.stop)
	if cfg == nil {
		e.pool.PushReserved(id)
		return
	}

	reply, err := e.transport.Phase1(e.epoch, cfg.RingId, id, inst.Ballot)
	if err != nil {
		e.logf("single phase1 failed", "instance", id, "error", err)
		e.pool.PushReserved(id)
		return
	}

	switch reply.Status {
	case Phase1TooLow:
		boosted := e.ballots.Next(reply.CurrentPromise)
		inst.ToP1Pending(boosted)
		e.pool.PushReserved(id)
	case Phase1Forgotten:
		e.pool.Forget(id)
	case Phase1OK:
		if !reply.LastVotedValue.Empty() {
			inst.ToP2Pending(reply.LastVotedValue)
			e.schedulePhase2(cfg, id, inst, false)
		} else {
			inst.ToP1Open(inst.Ballot)
			e.pool.PushOpen(id)
		}
	}
}

// runClientWorker implements spec §4.4 "Client worker".
func (e *Engine) runClientWorker() {
	defer e.done.Done()
	for {
		select {
		case <-e.stop:
			return
		case <-e.pool.OpenReady():
		}

		for {
			id, ok := e.pool.PopOpen()
			if !ok {
				break
			}
			value, ok := e.ingest.PopValue(e.stop)
			if !ok {
				e.pool.PushOpen(id)
				return
			}
			inst, ok := e.pool.Get(id)
			if !ok {
				e.ingest.PushFront(value)
				continue
			}
			cfg := e.ring.WaitValid(e.ringChanged, e.stop)
			if cfg == nil {
				e.ingest.PushFront(value)
				e.pool.PushOpen(id)
				return
			}
			inst.ToP2PendingClientValue(value)
			e.schedulePhase2(cfg, id, inst, true)
		}
	}
}

// schedulePhase2 implements spec §4.4 "Phase-2": build and send the
// multicast, drain up to 10 queued commits onto it, and arm the
// phase2Timeout timer.
func (e *Engine) schedulePhase2(cfg *ring.Configuration, id paxos.InstanceId, inst *paxos.ProposerInstance, hadClientValue bool) {
	drained := e.commits.Drain()

	if err := e.transport.Phase2(e.epoch, cfg.RingId, id, inst.Ballot, inst.Value, drained); err != nil {
		e.logf("phase2 send failed", "instance", id, "error", err)
		e.commits.Restore(drained)
		e.requeueAfterFailure(id, inst, hadClientValue)
		return
	}

	timer := time.AfterFunc(e.phase2Timeout, func() { e.onPhase2Timeout(id) })
	e.mu.Lock()
	e.pending[id] = &inflight{ballot: inst.Ballot, value: inst.Value, hadClientValue: hadClientValue, drained: drained, timer: timer}
	e.mu.Unlock()
}

func (e *Engine) onPhase2Timeout(id paxos.InstanceId) {
	e.mu.Lock()
	inf, ok := e.pending[id]
	if ok {
		delete(e.pending, id)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	inst, ok := e.pool.Get(id)
	if !ok {
		return
	}
	e.commits.Restore(inf.drained)
	e.requeueAfterFailure(id, inst, inf.hadClientValue)
}

func (e *Engine) requeueAfterFailure(id paxos.InstanceId, inst *paxos.ProposerInstance, hadClientValue bool) {
	if hadClientValue {
		e.ingest.PushFront(inst.Value)
	}
	boosted := e.ballots.Next(inst.Ballot)
	inst.ToP1Pending(boosted)
	e.pool.PushReserved(id)
}

// OnVote is the completion path for a Phase-2 message: the RPC layer
// calls this when the master receives the ring-wrapped Vote acking
// instance at ballot for valueId (spec §4.4 "On COMPLETED").
func (e *Engine) OnVote(instance paxos.InstanceId, ballot paxos.BallotId, valueId guid.GUID) {
	e.mu.Lock()
	inf, ok := e.pending[instance]
	if !ok || inf.ballot != ballot || inf.value.Id != valueId {
		e.mu.Unlock()
		return
	}
	delete(e.pending, instance)
	inf.timer.Stop()
	e.mu.Unlock()

	inst, ok := e.pool.Get(instance)
	if ok {
		inst.ToClosed()
	}
	e.pool.Forget(instance)
	e.commits.Push(CommitRecord{Instance: instance, ValueId: valueId})
	e.onCommit.Fire()
}

// PendingCount reports the number of instances currently awaiting a
// Phase-2 completion, used for status/metrics reporting.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}
