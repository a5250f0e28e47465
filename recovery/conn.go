package recovery

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-kit/kit/log"

	"ringpaxos.io/server/paxos"
)

// TCPConn is a long-lived outbound recovery connection to one peer (spec
// §4.8). It serializes every SendBatch call onto the same net.Conn: the
// protocol is strict request/reply, one batch in flight at a time.
type TCPConn struct {
	mu      sync.Mutex
	conn    net.Conn
	metric  int
	addr    string
	timeout time.Duration
	closed  chan struct{}
}

// NewTCPConn wraps an already-dialed connection. metric should be 0 for a
// same-datacenter peer and a larger value otherwise (spec §4.8 "a metric
// (local DC < remote DC)").
func NewTCPConn(conn net.Conn, addr string, metric int, timeout time.Duration) *TCPConn {
	return &TCPConn{conn: conn, addr: addr, metric: metric, timeout: timeout, closed: make(chan struct{})}
}

// Metric implements Conn.
func (c *TCPConn) Metric() int { return c.metric }

// Close implements Conn. It is idempotent.
func (c *TCPConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return
	default:
		close(c.closed)
	}
	c.conn.Close()
}

// Wait returns a channel that closes once Close has been called, letting
// the Dialer's reconnect loop notice a connection SendBatch gave up on.
func (c *TCPConn) Wait() <-chan struct{} {
	return c.closed
}

// SendBatch implements Conn: it writes one BatchRecoveryRequest and reads
// back exactly one BatchRecoveryReply.
func (c *TCPConn) SendBatch(epoch paxos.Epoch, ids []paxos.InstanceId) (Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timeout > 0 {
		c.conn.SetDeadline(time.Now().Add(c.timeout))
	}
	if err := writeFramed(c.conn, encodeRequest(epoch, ids)); err != nil {
		return Reply{}, fmt.Errorf("recovery: write to %s: %w", c.addr, err)
	}
	body, err := readFramed(c.conn)
	if err != nil {
		return Reply{}, fmt.Errorf("recovery: read from %s: %w", c.addr, err)
	}
	reply, err := decodeReply(body)
	if err != nil {
		return Reply{}, fmt.Errorf("recovery: decode reply from %s: %w", c.addr, err)
	}
	return reply, nil
}

// Dialer opens an outbound recovery connection, retrying every
// reconnectDelay until it succeeds or stop closes (spec §4.8
// "reconnection retries every reconnectDelay").
type Dialer struct {
	Addr          string
	Metric        int
	Timeout       time.Duration
	ReconnectWait time.Duration
	Logger        log.Logger
}

// Run repeatedly dials d.Addr, registering a fresh TCPConn with manager on
// every successful connect and blocking until that connection fails, then
// waiting ReconnectWait before retrying. It returns when stop closes.
func (d *Dialer) Run(manager *Manager, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		raw, err := net.DialTimeout("tcp", d.Addr, d.Timeout)
		if err != nil {
			if d.Logger != nil {
				d.Logger.Log("msg", "recovery dial failed", "addr", d.Addr, "error", err)
			}
			if !sleepOrStop(d.ReconnectWait, stop) {
				return
			}
			continue
		}

		conn := NewTCPConn(raw, d.Addr, d.Metric, d.Timeout)
		manager.AddConn(conn)

		select {
		case <-conn.Wait():
		case <-stop:
			manager.RemoveConn(conn)
			conn.Close()
			return
		}

		if !sleepOrStop(d.ReconnectWait, stop) {
			return
		}
	}
}

func sleepOrStop(d time.Duration, stop <-chan struct{}) bool {
	select {
	case <-stop:
		return false
	case <-time.After(d):
		return true
	}
}
