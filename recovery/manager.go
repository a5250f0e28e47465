// Package recovery implements the TCP batch-recovery manager (spec
// §4.8): a set of long-lived connections to peers, a main queue
// dispatched to the best-metric connection and a random-destination
// queue used for retry scheduling. It is grounded on the teacher's
// network/connectionmanager.go reconnect-loop and active-set bookkeeping,
// generalized from server-to-server transaction gossip to instance-id
// batch recovery.
package recovery

import (
	"math/rand"
	"sync"
	"time"

	"github.com/go-kit/kit/log"

	"ringpaxos.io/server/paxos"
)

// batchCap is the maximum number of instance ids sharing one epoch
// batched into a single BatchRecovery request (spec §4.8 "~6000").
const batchCap = 6000

// RecoveredInstance is one instance a peer reports as committed (spec
// §6 "BatchRecoveryReply").
type RecoveredInstance struct {
	Instance paxos.InstanceId
	Ballot   paxos.BallotId
	Value    paxos.Value
}

// Reply is a peer's response to a BatchRecovery request.
type Reply struct {
	Recovered    []RecoveredInstance
	NotCommitted []paxos.InstanceId
	Forgotten    []paxos.InstanceId
}

// Conn is one long-lived TCP recovery connection to a peer (spec §4.8).
// Metric orders connections for main-queue dispatch (lower is better,
// e.g. 0 for a same-datacenter peer).
type Conn interface {
	SendBatch(epoch paxos.Epoch, ids []paxos.InstanceId) (Reply, error)
	Metric() int
	Close()
}

// Sink is the commit tracker's push path; recovered values are pushed
// with paxos.InvalidBallot (spec §4.8 "pushed to the commit tracker with
// kInvalidBallotId").
type Sink interface {
	Push(instance paxos.InstanceId, value paxos.Value)
}

// FatalGapHandler is notified when a peer reports an instance as
// permanently forgotten (spec §4.8 "forgotten is surfaced as a fatal
// gap").
type FatalGapHandler interface {
	ForgottenGap(epoch paxos.Epoch, instance paxos.InstanceId)
}

// Manager owns the recovery connection set and the main/random-
// destination queues (spec §4.8).
type Manager struct {
	mu    sync.Mutex
	epoch paxos.Epoch
	conns []Conn

	mainQueue   []paxos.InstanceId
	randomQueue []paxos.InstanceId

	instanceRetryInterval time.Duration
	sink                  Sink
	fatal                 FatalGapHandler
	logger                log.Logger
	rng                   *rand.Rand

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewManager constructs a Manager scoped to epoch.
func NewManager(epoch paxos.Epoch, instanceRetryInterval time.Duration, sink Sink, fatal FatalGapHandler, logger log.Logger) *Manager {
	return &Manager{
		epoch:                 epoch,
		instanceRetryInterval: instanceRetryInterval,
		sink:                  sink,
		fatal:                 fatal,
		logger:                logger,
		rng:                   rand.New(rand.NewSource(time.Now().UnixNano())),
		wake:                  make(chan struct{}, 1),
		stop:                  make(chan struct{}),
		done:                  make(chan struct{}),
	}
}

// ResetEpoch rebases the manager to a new epoch, discarding every queued
// instance id (they refer to the old epoch's instance space).
func (m *Manager) ResetEpoch(epoch paxos.Epoch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch = epoch
	m.mainQueue = nil
	m.randomQueue = nil
}

// AddConn registers a freshly (re)connected peer connection.
func (m *Manager) AddConn(c Conn) {
	m.mu.Lock()
	m.conns = append(m.conns, c)
	m.mu.Unlock()
	m.signal()
}

// RemoveConn drops a connection from the active set (spec §4.8
// "disconnected connections are removed from the active set").
func (m *Manager) RemoveConn(c Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.conns {
		if existing == c {
			m.conns = append(m.conns[:i], m.conns[i+1:]...)
			return
		}
	}
}

// Enqueue adds instance (for epoch) to the main queue (spec §4.7
// "enqueue (epoch, id) into the recovery manager"). Stale-epoch
// enqueues are dropped.
func (m *Manager) Enqueue(epoch paxos.Epoch, instance paxos.InstanceId) {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	m.mainQueue = append(m.mainQueue, instance)
	m.mu.Unlock()
	m.signal()
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Start launches the dispatch loop.
func (m *Manager) Start() {
	go m.run()
}

// Stop requests the dispatch loop to exit and waits for it to do so.
func (m *Manager) Stop() {
	close(m.stop)
	<-m.done
}

func (m *Manager) run() {
	defer close(m.done)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-m.wake:
		case <-ticker.C:
		}
		m.dispatch(true)
		m.dispatch(false)
	}
}

// dispatch drains one batch from the main queue (fromMain true, routed to
// the best-metric connection) or the random-destination queue (routed to
// a uniformly random connection), per spec §4.8.
func (m *Manager) dispatch(fromMain bool) {
	m.mu.Lock()
	queue := &m.randomQueue
	if fromMain {
		queue = &m.mainQueue
	}
	if len(*queue) == 0 || len(m.conns) == 0 {
		m.mu.Unlock()
		return
	}
	n := len(*queue)
	if n > batchCap {
		n = batchCap
	}
	ids := append([]paxos.InstanceId(nil), (*queue)[:n]...)
	*queue = (*queue)[n:]

	var conn Conn
	if fromMain {
		conn = bestMetric(m.conns)
	} else {
		conn = m.conns[m.rng.Intn(len(m.conns))]
	}
	epoch := m.epoch
	m.mu.Unlock()

	go m.sendBatch(conn, epoch, ids)
}

func bestMetric(conns []Conn) Conn {
	best := conns[0]
	for _, c := range conns[1:] {
		if c.Metric() < best.Metric() {
			best = c
		}
	}
	return best
}

func (m *Manager) sendBatch(conn Conn, epoch paxos.Epoch, ids []paxos.InstanceId) {
	reply, err := conn.SendBatch(epoch, ids)
	if err != nil {
		if m.logger != nil {
			m.logger.Log("msg", "recovery connection failed, requeueing batch", "error", err, "ids", len(ids))
		}
		m.requeueMain(ids)
		m.RemoveConn(conn)
		conn.Close()
		return
	}

	for _, r := range reply.Recovered {
		m.sink.Push(r.Instance, r.Value)
	}
	if len(reply.NotCommitted) > 0 {
		notCommitted := reply.NotCommitted
		time.AfterFunc(m.instanceRetryInterval, func() { m.requeueRandom(notCommitted) })
	}
	for _, f := range reply.Forgotten {
		if m.fatal != nil {
			m.fatal.ForgottenGap(epoch, f)
		}
	}
}

func (m *Manager) requeueMain(ids []paxos.InstanceId) {
	m.mu.Lock()
	m.mainQueue = append(m.mainQueue, ids...)
	m.mu.Unlock()
	m.signal()
}

func (m *Manager) requeueRandom(ids []paxos.InstanceId) {
	m.mu.Lock()
	m.randomQueue = append(m.randomQueue, ids...)
	m.mu.Unlock()
	m.signal()
}

// QueueDepth reports the combined main+random queue occupancy, used for
// status/metrics reporting.
func (m *Manager) QueueDepth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mainQueue) + len(m.randomQueue)
}
