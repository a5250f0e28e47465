package actor

import (
	"github.com/go-kit/kit/log"
)

// Actor is a running mailbox plus the goroutine draining it. Components
// obtain one via Spawn and thereafter only ever talk to each other by
// enqueuing Msg values on Actor.Mailbox.
type Actor struct {
	Mailbox *Mailbox
}

// ServerInner is implemented by the concrete state of a spawned actor. Init
// runs once, on the actor's own goroutine, before the mailbox loop starts;
// it is where a component wires up its BasicServerOuter and subscribes to
// whatever it needs.
type ServerInner interface {
	Init(self *Actor) (bool, error)
	HandleMsg(Msg) (terminate bool, err error)
	Shutdown()
}

// Spawn starts inner's mailbox loop on a new goroutine and blocks until
// Init has run, mirroring the teacher's actor.Spawn(spi) call in
// stats/stats.go.
func Spawn(inner ServerInner) (*Actor, error) {
	head, mb := NewMailbox()
	self := &Actor{Mailbox: mb}

	initErrChan := make(chan error, 1)
	go func() {
		terminate, err := inner.Init(self)
		initErrChan <- err
		if terminate || err != nil {
			mb.Terminate()
			inner.Shutdown()
			return
		}
		runErr := Loop(head, mb, inner.HandleMsg)
		inner.Shutdown()
		if runErr != nil && err == nil {
			// the init error channel has already been drained; nothing
			// further to report to Spawn's caller, who has long since
			// returned. Run-loop errors surface only via logging done by
			// the component itself.
			_ = runErr
		}
	}()

	if err := <-initErrChan; err != nil {
		return nil, err
	}
	return self, nil
}

// BasicServerInner is embedded by a component's inner state to supply a
// default HandleMsg/Shutdown pair and a logger, exactly as the teacher's
// actor.BasicServerInner underlies statsPublisherInner.
type BasicServerInner struct {
	Logger    log.Logger
	execer    func(Msg) (bool, error)
	onShutdown func()
}

// NewBasicServerInner constructs a BasicServerInner bound to logger.
func NewBasicServerInner(logger log.Logger) *BasicServerInner {
	return &BasicServerInner{Logger: logger}
}

// SetHandler installs the dispatcher a component's Init should call once it
// has enough of its own state constructed to handle messages.
func (bsi *BasicServerInner) SetHandler(f func(Msg) (bool, error)) {
	bsi.execer = f
}

// SetShutdown installs a cleanup hook run when the actor terminates.
func (bsi *BasicServerInner) SetShutdown(f func()) {
	bsi.onShutdown = f
}

// Init is the default ServerInner.Init: it does nothing beyond satisfying
// the interface, letting embedders override behaviour selectively.
func (bsi *BasicServerInner) Init(self *Actor) (bool, error) {
	return false, nil
}

func (bsi *BasicServerInner) HandleMsg(msg Msg) (bool, error) {
	if bsi.execer == nil {
		return false, nil
	}
	return bsi.execer(msg)
}

func (bsi *BasicServerInner) Shutdown() {
	if bsi.onShutdown != nil {
		bsi.onShutdown()
	}
}

// BasicServerOuter is the handle other goroutines use to talk to an actor;
// it is nothing more than the actor's Mailbox, named to match the
// teacher's actor.BasicServerOuter embedding convention.
type BasicServerOuter struct {
	*Mailbox
}

// NewBasicServerOuter wraps mb for embedding into a component's public
// struct (see stats/stats.go: sp.BasicServerOuter = actor.NewBasicServerOuter(self.Mailbox)).
func NewBasicServerOuter(mb *Mailbox) *BasicServerOuter {
	return &BasicServerOuter{Mailbox: mb}
}

// MsgExec is implemented by messages that carry their own execution logic,
// so that an actor's HandleMsg can simply type-assert and call Exec().
type MsgExec interface {
	Exec() (bool, error)
}

// MsgSyncQuery is embedded by messages sent by one actor to another that
// expect a synchronous reply: the sender blocks on Wait() until the
// receiving actor's Exec method (or any code holding the message) calls
// Close (or MustClose on a best-effort basis).
type MsgSyncQuery struct {
	result chan struct{}
	ok     bool
}

// InitMsg must be called by the sender before handing the message to
// EnqueueMsg; it is a no-op allocation step kept as a method (rather than a
// constructor) so embedding structs can call it on themselves, matching
// msg.InitMsg(cp) in the teacher's configPublisherMsgTopologyChanged.
func (q *MsgSyncQuery) InitMsg(_ interface{}) {
	q.result = make(chan struct{})
}

// Close signals the waiting sender with the given outcome.
func (q *MsgSyncQuery) Close(ok bool) {
	if q.result == nil {
		return
	}
	select {
	case <-q.result:
	default:
		q.ok = ok
		close(q.result)
	}
}

// MustClose signals the waiting sender with ok=true; used when a handler
// reaches a code path where the precise outcome no longer matters to the
// caller (the teacher's msg.MustClose() convention).
func (q *MsgSyncQuery) MustClose() {
	q.Close(true)
}

// Wait blocks until Close/MustClose is called and returns the outcome.
func (q *MsgSyncQuery) Wait() bool {
	if q.result == nil {
		return false
	}
	<-q.result
	return q.ok
}

// EnqueueMsg enqueues an MsgExec-compatible message on mb's mailbox loop.
// Whoever drains the mailbox is expected to type-switch to MsgExec and
// invoke Exec(), exactly as the teacher's HandleMsg does for
// connectionManagerMsg variants; components that also embed MsgSyncQuery
// get their Wait() unblocked once Exec (or the handler) closes the query.
func EnqueueMsg(mb *Mailbox, msg Msg) bool {
	return mb.Enqueue(msg)
}
