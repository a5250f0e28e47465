// Package actor implements the cooperative, single-threaded task model
// called for in spec.md §5 and §9 ("Cooperative fibers with mutexes and
// events... realize as asynchronous tasks coordinated by mailboxes and
// single-producer single-consumer signals"). The commit tracker is built
// on it as an actor: a single goroutine that owns its state exclusively and
// only ever mutates it in response to a message pulled off its mailbox.
// The other stateful components (acceptor store, proposer engine, ring
// manager, recovery manager, RPC requester) use mutexes and channels.
//
// This is the same shape as the teacher's goshawkdb.io/common/actor
// package (see network/connectionmanager.go's actorLoop, stats/stats.go's
// use of actor.Spawn/BasicServerInner/BasicServerOuter), rebuilt here since
// that package is internal to the teacher's own module tree rather than a
// fetchable third-party dependency.
package actor

import (
	cc "github.com/msackman/chancell"
)

// Msg is any message deliverable to a Mailbox. Components define their own
// concrete message types (usually small structs) and type-switch on Msg in
// their run loop, exactly as the teacher's connectionManagerMsg does.
type Msg interface{}

// Mailbox is a closeable, resizeable channel of pending messages, built on
// top of github.com/msackman/chancell's ChanCell so that Enqueue never
// blocks the caller on a full channel and ordering is preserved even across
// an internal channel resize.
type Mailbox struct {
	cellTail     *cc.ChanCellTail
	enqueueInner func(Msg, *cc.ChanCell, cc.CurCellConsumer) (bool, cc.CurCellConsumer)
	queryChan    chan Msg
}

// NewMailbox creates a Mailbox and the ChanCellHead its owning actor loop
// must read from. Callers spawn a goroutine running Loop(head, mb, handle).
func NewMailbox() (*cc.ChanCellHead, *Mailbox) {
	mb := &Mailbox{}
	head, tail := cc.NewChanCellTail(
		func(n int, cell *cc.ChanCell) {
			queryChan := make(chan Msg, n)
			cell.Open = func() { mb.queryChan = queryChan }
			cell.Close = func() { close(queryChan) }
			mb.enqueueInner = func(msg Msg, curCell *cc.ChanCell, cont cc.CurCellConsumer) (bool, cc.CurCellConsumer) {
				if curCell != cell {
					return false, cont
				}
				select {
				case queryChan <- msg:
					return true, nil
				default:
					return false, nil
				}
			}
		})
	mb.cellTail = tail
	return head, mb
}

type queryCapture struct {
	mb  *Mailbox
	msg Msg
}

func (c *queryCapture) consume(cell *cc.ChanCell) (bool, cc.CurCellConsumer) {
	return c.mb.enqueueInner(c.msg, cell, c.consume)
}

// Enqueue appends msg to the mailbox. It returns false iff the mailbox has
// already been terminated, in which case the message is dropped.
func (mb *Mailbox) Enqueue(msg Msg) bool {
	qc := &queryCapture{mb: mb, msg: msg}
	return mb.cellTail.WithCell(qc.consume)
}

// EnqueueBlocking enqueues msg, blocking the caller until either the
// message is accepted or the mailbox terminates.
func (mb *Mailbox) EnqueueBlocking(msg Msg) bool {
	if mb.Enqueue(msg) {
		return true
	}
	select {
	case <-mb.cellTail.Terminated:
		return false
	default:
		return mb.Enqueue(msg)
	}
}

// Terminate shuts the mailbox down; pending and future Enqueue calls fail.
func (mb *Mailbox) Terminate() {
	mb.cellTail.Terminate()
}

// Terminated is closed once the mailbox has fully shut down.
func (mb *Mailbox) Terminated() <-chan struct{} {
	return mb.cellTail.Terminated
}

// Handler processes one message pulled from the mailbox. Returning
// terminate=true or a non-nil error ends the actor's run loop.
type Handler func(Msg) (terminate bool, err error)

// Loop runs the single-threaded consume loop for a mailbox until the
// handler requests termination or errors. It is the direct analogue of the
// teacher's ConnectionManager.actorLoop.
func Loop(head *cc.ChanCellHead, mb *Mailbox, handle Handler) error {
	var (
		err       error
		queryChan chan Msg
		queryCell *cc.ChanCell
	)
	chanFun := func(cell *cc.ChanCell) { queryChan, queryCell = mb.queryChan, cell }
	head.WithCell(chanFun)

	terminate := false
	for !terminate {
		if msg, ok := <-queryChan; ok {
			terminate, err = handle(msg)
		} else {
			head.Next(queryCell, chanFun)
		}
	}
	mb.cellTail.Terminate()
	return err
}
