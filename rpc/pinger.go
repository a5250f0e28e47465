package rpc

import (
	"time"

	"ringpaxos.io/server/ping"
	"ringpaxos.io/server/wire"
)

// Pinger runs the master's periodic ping sweep (spec §4.5 "The master
// periodically multicasts pings with monotonically increasing 64-bit
// ids; every acceptor pongs"). It is the only component that calls
// Tracker.RecordSend/RecordPong; Responder.handlePing on the receiving
// end only echoes.
type Pinger struct {
	req      *Requester
	tracker  *ping.Tracker
	hostIds  func() []int
	interval time.Duration
	timeout  time.Duration

	nextId uint64
	stop   chan struct{}
	done   chan struct{}
}

// NewPinger constructs a Pinger sending on req every interval to
// hostIds() (read fresh each tick, so ring membership changes take
// effect without restarting the pinger).
func NewPinger(req *Requester, tracker *ping.Tracker, hostIds func() []int, interval, timeout time.Duration) *Pinger {
	return &Pinger{req: req, tracker: tracker, hostIds: hostIds, interval: interval, timeout: timeout, stop: make(chan struct{}), done: make(chan struct{})}
}

// Start launches the sweep loop.
func (p *Pinger) Start() { go p.run() }

// Stop requests the sweep loop to exit and waits for it.
func (p *Pinger) Stop() {
	close(p.stop)
	<-p.done
}

func (p *Pinger) run() {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *Pinger) sweep() {
	hostIds := p.hostIds()
	if len(hostIds) == 0 {
		return
	}
	for _, hostId := range hostIds {
		p.nextId++
		id := p.nextId
		sendTime := time.Now()
		body, err := encodeBody(Ping{Id: id, SenderNow: uint64(sendTime.UnixNano())}, 16)
		if err != nil {
			continue
		}
		p.tracker.RecordSend(hostId, id, sendTime)

		hostId := hostId
		_, err = p.req.Unicast(hostId, wire.TypePing, body, p.timeout,
			func(b []byte) {
				pong, err := decodePing(wire.NewDecoder(b))
				if err != nil {
					return
				}
				p.tracker.RecordPong(hostId, pong.Id, time.Unix(0, int64(pong.SenderNow)), time.Now())
			},
			func(timedOut bool) {},
		)
		if err != nil {
			continue
		}
	}
}
