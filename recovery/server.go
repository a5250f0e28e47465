package recovery

import (
	"net"

	"github.com/go-kit/kit/log"

	"ringpaxos.io/server/cache"
	"ringpaxos.io/server/paxos"
)

// ValueSource answers a recovery query for a single instance, satisfied
// by cache.Cache (spec §4.8 "query(epoch, id)").
type ValueSource interface {
	Query(epoch paxos.Epoch, instance paxos.InstanceId) (paxos.Value, cache.QueryResult)
}

// Server accepts inbound BatchRecovery connections and answers them from
// a ValueSource (spec §6 "TCP recovery protocol"). Each accepted
// connection is served on its own goroutine, serially handling
// request/reply pairs in order, matching the one-batch-in-flight
// discipline TCPConn uses on the client side.
type Server struct {
	source ValueSource
	logger log.Logger
}

// NewServer constructs a Server answering from source.
func NewServer(source ValueSource, logger log.Logger) *Server {
	return &Server{source: source, logger: logger}
}

// Serve accepts connections off ln until it errors or stop closes.
func (s *Server) Serve(ln net.Listener, stop <-chan struct{}) error {
	go func() {
		<-stop
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stop:
				return nil
			default:
				return err
			}
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	for {
		body, err := readFramed(conn)
		if err != nil {
			return
		}
		epoch, ids, err := decodeRequest(body)
		if err != nil {
			if s.logger != nil {
				s.logger.Log("msg", "recovery: malformed batch request", "error", err)
			}
			return
		}

		reply := s.answer(epoch, ids)
		if err := writeFramed(conn, encodeReply(epoch, reply.Recovered, reply.NotCommitted, reply.Forgotten)); err != nil {
			return
		}
	}
}

func (s *Server) answer(epoch paxos.Epoch, ids []paxos.InstanceId) Reply {
	var reply Reply
	for _, id := range ids {
		value, result := s.source.Query(epoch, id)
		switch result {
		case cache.QueryOK:
			reply.Recovered = append(reply.Recovered, RecoveredInstance{Instance: id, Ballot: paxos.InvalidBallot, Value: value})
		case cache.QueryNotYet:
			reply.NotCommitted = append(reply.NotCommitted, id)
		case cache.QueryTooOld, cache.QueryWrongEpoch:
			reply.Forgotten = append(reply.Forgotten, id)
		}
	}
	return reply
}
