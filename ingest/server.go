package ingest

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/go-kit/kit/log"

	"ringpaxos.io/server/guid"
	"ringpaxos.io/server/paxos"
)

// Server accepts client connections and enqueues every framed value it
// reads onto a Queue, replying with the guid.GUID assigned to that value
// so the client can correlate a later commit notification (spec §6 "TCP
// client value ingest"). Framing mirrors recovery/wire.go's
// writeFramed/readFramed: a 4-byte big-endian length prefix around each
// value's raw bytes.
type Server struct {
	queue       *Queue
	reassembler Reassembler
	logger      log.Logger
}

// Reassembler is the extension point the original's stream_reassembler
// occupied: given the bytes of one framed read, it returns the bytes to
// enqueue as a client value, or an error to reject and close the
// connection. The spec places stream reassembly itself out of scope, so
// PassthroughReassembler — the only implementation this package
// provides — passes the framed bytes through unchanged.
type Reassembler interface {
	Reassemble(data []byte) ([]byte, error)
}

// PassthroughReassembler treats each framed read as already being one
// complete client value.
type PassthroughReassembler struct{}

func (PassthroughReassembler) Reassemble(data []byte) ([]byte, error) { return data, nil }

// NewServer constructs a Server pushing accepted values onto queue, running
// each one through reassembler first. A nil reassembler defaults to
// PassthroughReassembler.
func NewServer(queue *Queue, reassembler Reassembler, logger log.Logger) *Server {
	if reassembler == nil {
		reassembler = PassthroughReassembler{}
	}
	return &Server{queue: queue, reassembler: reassembler, logger: logger}
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
		data, err := readFramed(conn)
		if err != nil {
			return
		}
		data, err = s.reassembler.Reassemble(data)
		if err != nil {
			if s.logger != nil {
				s.logger.Log("msg", "ingest: reassembly rejected value", "error", err)
			}
			return
		}
		id := guid.New()
		value := paxos.Value{Id: id, Data: data}
		if err := value.Validate(); err != nil {
			if s.logger != nil {
				s.logger.Log("msg", "ingest: rejected oversized value", "error", err)
			}
			return
		}
		s.queue.Push(value)
		if err := writeFramed(conn, id[:]); err != nil {
			return
		}
		if s.logger != nil {
			s.logger.Log("msg", "ingest: accepted client value", "bytes", len(data), "value_id", id.String())
		}
	}
}

func writeFramed(w io.Writer, body []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func readFramed(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > 1<<20 {
		return nil, fmt.Errorf("ingest: framed value of %d bytes exceeds sanity limit", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}
