package rpc

import (
	"fmt"
	"sync"
	"time"

	tw "github.com/msackman/gotimerwheel"

	"ringpaxos.io/server/guid"
	"ringpaxos.io/server/metrics"
	"ringpaxos.io/server/wire"
)

// wheelTick is the timer wheel's granularity. RPC timeouts in this package
// are tens of milliseconds or more, so a 25ms tick keeps the beater loop
// cheap without hurting timeout accuracy.
const wheelTick = 25 * time.Millisecond

// AddressBook resolves a hostId to its unicast wire address (spec §6
// bootstrap "unicastAddress") and back, so a multicast reply's source
// address can be attributed to the host that sent it.
type AddressBook interface {
	Address(hostId int) (string, bool)
	HostId(addr string) (int, bool)
}

// pendingRequest is one in-flight request (spec §4.9 "Requester").
// remaining is nil for a unicast request (it completes on the first
// reply); for a multicast request it starts holding every addressed
// hostId and completes once empty.
type pendingRequest struct {
	typ        wire.Type
	remaining  map[int]struct{}
	onReply    func(hostId int, body []byte)
	onComplete func(timedOut bool)
}

// Requester implements spec §4.9 "Requester": it owns the pending-request
// map, arms a timeout timer per request, and tracks a multicast request's
// set of not-yet-acked hosts.
type Requester struct {
	sock    Socket
	addrs   AddressBook
	metrics *metrics.Sink

	mu      sync.Mutex
	pending map[guid.GUID]*pendingRequest

	// wheel schedules every request's timeout; wheelMu guards it since the
	// beater goroutine and request registration both touch it.
	wheelMu sync.Mutex
	wheel   *tw.TimerWheel

	stop       chan struct{}
	done       chan struct{}
	beaterDone chan struct{}
}

// NewRequester constructs a Requester sending/receiving on sock.
func NewRequester(sock Socket, addrs AddressBook, m *metrics.Sink) *Requester {
	return &Requester{
		sock:       sock,
		addrs:      addrs,
		metrics:    m,
		pending:    make(map[guid.GUID]*pendingRequest),
		wheel:      tw.NewTimerWheel(time.Now(), wheelTick),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		beaterDone: make(chan struct{}),
	}
}

// Start launches the socket read loop dispatching inbound replies, and the
// timer wheel's beater loop driving every request's timeout.
func (r *Requester) Start() {
	go r.readLoop()
	go r.beat()
}

// Stop closes the socket, which unblocks the read loop, and stops the
// beater loop.
func (r *Requester) Stop() {
	close(r.stop)
	r.sock.Close()
	<-r.done
	<-r.beaterDone
}

func (r *Requester) beat() {
	defer close(r.beaterDone)
	ticker := time.NewTicker(wheelTick)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case now := <-ticker.C:
			r.wheelMu.Lock()
			r.wheel.AdvanceTo(now, 256)
			r.wheelMu.Unlock()
		}
	}
}

func (r *Requester) readLoop() {
	defer close(r.done)
	buf := make([]byte, wire.MaxDatagramSize)
	for {
		n, addr, err := r.sock.ReadFrom(buf)
		if err != nil {
			select {
			case <-r.stop:
				return
			default:
				continue
			}
		}
		r.handleDatagram(buf[:n], addr)
	}
}

func (r *Requester) handleDatagram(data []byte, addr string) {
	d := wire.NewDecoder(data)
	env, err := wire.DecodeHeader(d)
	if err != nil {
		return
	}
	hostId, _ := r.addrs.HostId(addr)

	r.mu.Lock()
	req, ok := r.pending[env.RequestId]
	if !ok || req.typ != env.Type {
		r.mu.Unlock()
		return
	}
	done := true
	if req.remaining != nil {
		delete(req.remaining, hostId)
		done = len(req.remaining) == 0
	}
	if done {
		delete(r.pending, env.RequestId)
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RPCReplies.WithLabelValues(env.Type.String()).Inc()
	}

	body := data[d.Pos():]
	req.onReply(hostId, body)
	if done && req.onComplete != nil {
		req.onComplete(false)
	}
}

// Unicast sends typ/body to hostId, arming a timeout timer. onReply is
// called with the raw body on a matching reply; onComplete(true) fires if
// the timer expires first. Returns the request's correlation GUID.
func (r *Requester) Unicast(hostId int, typ wire.Type, body []byte, timeout time.Duration, onReply func(body []byte), onComplete func(timedOut bool)) (guid.GUID, error) {
	addr, ok := r.addrs.Address(hostId)
	if !ok {
		return guid.GUID{}, fmt.Errorf("rpc: no address for host %d", hostId)
	}

	id := guid.New()
	req := &pendingRequest{
		typ:        typ,
		onReply:    func(_ int, b []byte) { onReply(b) },
		onComplete: onComplete,
	}
	r.register(id, req, timeout)

	if err := r.send(id, typ, body, addr); err != nil {
		r.cancel(id)
		return guid.GUID{}, err
	}
	if r.metrics != nil {
		r.metrics.RPCSent.WithLabelValues(typ.String()).Inc()
	}
	return id, nil
}

// Multicast sends typ/body to every hostId in hostIds, completing once
// every host has replied (each reply is recorded as it arrives, as is an
// explicit Ack) or timeout fires (spec §4.9 "tracks a
// bitmask of not-yet-acked hosts").
func (r *Requester) Multicast(hostIds []int, typ wire.Type, body []byte, timeout time.Duration, onReply func(hostId int, body []byte), onComplete func(timedOut bool)) (guid.GUID, error) {
	remaining := make(map[int]struct{}, len(hostIds))
	for _, h := range hostIds {
		remaining[h] = struct{}{}
	}

	id := guid.New()
	req := &pendingRequest{typ: typ, remaining: remaining, onReply: onReply, onComplete: onComplete}
	r.register(id, req, timeout)

	for _, hostId := range hostIds {
		addr, ok := r.addrs.Address(hostId)
		if !ok {
			continue
		}
		if err := r.send(id, typ, body, addr); err != nil {
			continue
		}
		if r.metrics != nil {
			r.metrics.RPCSent.WithLabelValues(typ.String()).Inc()
		}
	}
	return id, nil
}

// Ack records that hostId replied to request id, completing the request
// if every addressed host has now acked (spec §4.9). Unicast callers
// don't need this: their single onReply/onComplete pair is driven
// directly off the matching datagram.
func (r *Requester) Ack(id guid.GUID, hostId int) {
	r.mu.Lock()
	req, ok := r.pending[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(req.remaining, hostId)
	done := len(req.remaining) == 0
	if done {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if done && req.onComplete != nil {
		req.onComplete(false)
	}
}

// register arms req's timeout on the shared timer wheel (spec §4.9). The
// wheel has no per-event cancellation, so onTimeout tolerates a stale fire
// for a request that already completed by checking r.pending itself — the
// same tolerance the map-based lookup always needed against a timer/reply
// race.
func (r *Requester) register(id guid.GUID, req *pendingRequest, timeout time.Duration) {
	r.mu.Lock()
	r.pending[id] = req
	r.mu.Unlock()

	r.wheelMu.Lock()
	err := r.wheel.ScheduleEventIn(timeout, func() { r.onTimeout(id) })
	r.wheelMu.Unlock()
	if err != nil {
		// wheel rejected the schedule (e.g. already stopped); time out now
		// rather than leave the request pending forever.
		r.onTimeout(id)
	}
}

func (r *Requester) onTimeout(id guid.GUID) {
	r.mu.Lock()
	req, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return // already completed; a stale fire racing cancellation is a no-op (spec §5)
	}
	if r.metrics != nil {
		r.metrics.RPCTimeouts.WithLabelValues(req.typ.String()).Inc()
	}
	if req.onComplete != nil {
		req.onComplete(true)
	}
}

// cancel drops a request before it was ever sent (spec §4.9 send failure
// path). Its wheel event, if one was scheduled, fires later as a no-op
// since the pending entry is already gone.
func (r *Requester) cancel(id guid.GUID) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

func (r *Requester) send(id guid.GUID, typ wire.Type, body []byte, addr string) error {
	e := wire.NewEncoder(guid.Len + 1 + len(body))
	wire.Envelope{RequestId: id, Type: typ}.EncodeHeader(e)
	buf, err := e.Bytes()
	if err != nil {
		return err
	}
	buf = append(buf, body...)
	if len(buf) > wire.MaxDatagramSize {
		return fmt.Errorf("rpc: encoded %s request of %d bytes exceeds datagram limit", typ, len(buf))
	}
	return r.sock.WriteTo(buf, addr)
}
