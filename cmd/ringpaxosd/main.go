package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus"

	"ringpaxos.io/server/cache"
	"ringpaxos.io/server/commit"
	"ringpaxos.io/server/config"
	"ringpaxos.io/server/httpstats"
	"ringpaxos.io/server/ingest"
	"ringpaxos.io/server/metrics"
	"ringpaxos.io/server/paxos"
	"ringpaxos.io/server/ping"
	"ringpaxos.io/server/proposer"
	"ringpaxos.io/server/recovery"
	"ringpaxos.io/server/ring"
	"ringpaxos.io/server/rpc"
)

// ServerVersion is bumped on every release tag.
const ServerVersion = "0.1.0"

// pingStatsWindow is the number of recent ping samples a ping.Stats
// window retains per remote host; an implementation constant, not one of
// spec §6's bootstrap scalars.
const pingStatsWindow = 64

func main() {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)

	configFile := flag.String("config", "", "`Path` to the bootstrap JSON configuration (required).")
	self := flag.Int("self", -1, "This process's host index into the configuration's host list (required).")
	acceptors := flag.Int("acceptors", 0, "Number of configured hosts that are acceptors (default: all hosts).")
	version := flag.Bool("version", false, "Display version and exit.")
	flag.Parse()

	if *version {
		fmt.Println("ringpaxosd version", ServerVersion)
		return
	}
	if *configFile == "" {
		fmt.Fprintln(os.Stderr, "missing -config")
		flag.Usage()
		os.Exit(1)
	}

	group, err := config.Load(*configFile)
	if err != nil {
		logger.Log("msg", "failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *self < 0 || *self >= len(group.Hosts) {
		logger.Log("msg", "missing or out-of-range -self", "hosts", len(group.Hosts))
		os.Exit(1)
	}
	n := *acceptors
	if n <= 0 {
		n = len(group.Hosts)
	}

	logger.Log("msg", "starting", "version", ServerVersion, "self", *self, "host", group.Hosts[*self].Name, "epoch", group.Epoch.String())

	s, err := newServer(group, *self, n, logger)
	if err != nil {
		logger.Log("msg", "failed to start", "error", err)
		os.Exit(1)
	}
	s.run()
}

// server bundles every wired component for one host's process, matching
// the teacher's cmd/goshawkdb/main.go server type: flags parse into a
// single struct that owns startup, the signal loop and shutdown.
type server struct {
	logger   log.Logger
	self     int
	isMaster bool

	group *config.Group

	requester *rpc.Requester
	responder *rpc.Responder
	pinger    *ping.Tracker

	ringManager   *ring.Manager
	recoveryMgr   *recovery.Manager
	recoverySrv   *recovery.Server
	recoveryLn    net.Listener
	dialerStop    chan struct{}
	commitTracker *commit.Tracker

	engine      *proposer.Engine
	ingestQueue *ingest.Queue
	ingestSrv   *ingest.Server
	ingestLn    net.Listener

	httpSrv *httpstats.Server
	httpLn  net.Listener

	stop chan struct{}
}

// recoverySinkRef forwards Push to a *commit.Tracker set after
// construction, breaking the otherwise-circular dependency between
// recovery.Manager (which needs a Sink) and commit.Tracker (which needs a
// RecoveryEnqueuer, satisfied by that same Manager).
type recoverySinkRef struct {
	tracker *commit.Tracker
}

func (r *recoverySinkRef) Push(instance paxos.InstanceId, value paxos.Value) {
	r.tracker.Push(instance, value)
}

type fatalGapLogger struct {
	logger log.Logger
}

func (f *fatalGapLogger) ForgottenGap(epoch paxos.Epoch, instance paxos.InstanceId) {
	if f.logger != nil {
		f.logger.Log("msg", "recovery: peer reports forgotten instance, fatal gap", "epoch", epoch.String(), "instance", instance)
	}
}

func newServer(group *config.Group, self, n int, logger log.Logger) (*server, error) {
	host := group.Hosts[self]
	isMaster := self == 0

	reg := prometheus.NewRegistry()
	sink := metrics.NewSink(reg)

	ringSnapshot := ring.NewSnapshot()
	ringNotifier := ring.NewChangeNotifier()

	store := paxos.NewStore(group.PendingInstancesLimit, group.CommittedInstancesLimit, sink)
	store.ResetEpoch(group.Epoch)

	valueCache := cache.New(group.ValueCacheSize, group.Epoch)
	orderedSink := commit.NewOrderedSink(valueCache)

	sinkRef := &recoverySinkRef{}
	recoveryMgr := recovery.NewManager(group.Epoch, group.InstanceRetryInterval, sinkRef, &fatalGapLogger{logger}, logger)
	commitTracker := commit.NewTracker(group.Epoch, group.RecoveryGracePeriod, recoveryMgr, orderedSink)
	sinkRef.tracker = commitTracker

	requestSock, err := rpc.NewUDPSocket("0.0.0.0:0")
	if err != nil {
		return nil, fmt.Errorf("binding requester socket: %w", err)
	}
	responderSock, err := rpc.NewUDPSocket(host.UnicastAddr)
	if err != nil {
		return nil, fmt.Errorf("binding responder socket on %s: %w", host.UnicastAddr, err)
	}

	addrBook := rpc.NewGroupAddressBook(group, ringSnapshot)
	requester := rpc.NewRequester(requestSock, addrBook, sink)
	client := rpc.NewClient(requester, group.Phase1Timeout)

	pingTracker := ping.NewTracker(pingStatsWindow, group.SinglePingTimeout, group.NoHeartbeatTimeout)

	voter := ring.NewVoter(self, store, ringSnapshot, client, commitTracker, logger)

	holders := []ring.Holder{ringSnapshot}
	responder := rpc.NewResponder(self, responderSock, store, voter, holders, ringNotifier, ringSnapshot, logger)

	s := &server{
		logger:        logger,
		self:          self,
		isMaster:      isMaster,
		group:         group,
		requester:     requester,
		responder:     responder,
		pinger:        pingTracker,
		recoveryMgr:   recoveryMgr,
		commitTracker: commitTracker,
		dialerStop:    make(chan struct{}),
		stop:          make(chan struct{}),
	}

	if host.RecoveryAddr != "" {
		ln, err := net.Listen("tcp", host.RecoveryAddr)
		if err != nil {
			return nil, fmt.Errorf("binding recovery listener on %s: %w", host.RecoveryAddr, err)
		}
		s.recoverySrv = recovery.NewServer(valueCache, logger)
		s.recoveryLn = ln
	}

	for i, peer := range group.Hosts {
		if i == self || peer.RecoveryAddr == "" {
			continue
		}
		metric := 0
		if peer.Datacenter != host.Datacenter {
			metric = 1
		}
		dialer := &recovery.Dialer{
			Addr:          peer.RecoveryAddr,
			Metric:        metric,
			Timeout:       group.Phase2Timeout,
			ReconnectWait: group.ReconnectDelay,
			Logger:        log.With(logger, "peer", peer.Name),
		}
		go dialer.Run(s.recoveryMgr, s.dialerStop)
	}

	if host.MetricsAddr != "" {
		ln, err := net.Listen("tcp", host.MetricsAddr)
		if err != nil {
			return nil, fmt.Errorf("binding metrics listener on %s: %w", host.MetricsAddr, err)
		}
		s.httpSrv = httpstats.NewServer(host.MetricsAddr, reg, logger)
		s.httpLn = ln
	}

	if isMaster {
		s.ringManager = ring.NewManager(self, n, group.Epoch, pingTracker, group.Datacenter, client,
			group.OkToMissDatacenter, group.LookupRingRetry, group.SetRingTimeout, holders, ringNotifier, logger)

		ringChanged, _ := ringNotifier.Subscribe()
		s.ingestQueue = ingest.NewQueue()
		s.engine = proposer.NewEngine(proposer.Config{
			Self:          self,
			N:             uint64(n),
			Epoch:         group.Epoch,
			Ring:          ringSnapshot,
			RingChanged:   ringChanged,
			Pool:          paxos.NewPool(group.PendingInstancesLimit),
			Transport:     client,
			Ingest:        s.ingestQueue,
			BatchSize:     group.Phase1BatchSize,
			Phase2Timeout: group.Phase2Timeout,
			Logger:        logger,
		})
		responder.OnMasterVote(s.engine.OnVote)

		if host.IngestAddr != "" {
			ln, err := net.Listen("tcp", host.IngestAddr)
			if err != nil {
				return nil, fmt.Errorf("binding ingest listener on %s: %w", host.IngestAddr, err)
			}
			s.ingestSrv = ingest.NewServer(s.ingestQueue, nil, logger)
			s.ingestLn = ln
		}
	}

	return s, nil
}

// run starts every component, blocks until a termination signal arrives,
// then shuts everything down in roughly reverse dependency order.
func (s *server) run() {
	s.requester.Start()
	s.responder.Start()
	s.recoveryMgr.Start()

	if s.recoverySrv != nil {
		go func() {
			if err := s.recoverySrv.Serve(s.recoveryLn, s.stop); err != nil {
				s.logger.Log("msg", "recovery server exited", "error", err)
			}
		}()
	}
	if s.httpSrv != nil {
		go func() {
			if err := s.httpSrv.Serve(s.httpLn); err != nil {
				s.logger.Log("msg", "metrics server exited", "error", err)
			}
		}()
	}

	var pinger *rpc.Pinger
	var pingSweep *time.Ticker
	if s.isMaster {
		s.ringManager.Start()
		s.engine.Start()
		if s.ingestSrv != nil {
			go func() {
				if err := s.ingestSrv.Serve(s.ingestLn, s.stop); err != nil {
					s.logger.Log("msg", "ingest server exited", "error", err)
				}
			}()
		}

		pinger = rpc.NewPinger(s.requester, s.pinger, s.otherHostIds, s.group.PingInterval, s.group.SinglePingTimeout)
		pinger.Start()

		pingSweep = time.NewTicker(s.group.PingInterval)
		go func() {
			defer pingSweep.Stop()
			for {
				select {
				case <-s.stop:
					return
				case <-pingSweep.C:
					s.pinger.Sweep(time.Now())
				}
			}
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	<-sigs
	s.logger.Log("msg", "shutting down")

	close(s.stop)
	close(s.dialerStop)

	if pinger != nil {
		pinger.Stop()
	}
	if s.isMaster {
		s.engine.Stop()
		s.ringManager.Stop()
	}
	s.recoveryMgr.Stop()
	s.commitTracker.Stop()
	s.responder.Stop()
	s.requester.Stop()
	if s.httpSrv != nil {
		s.httpSrv.Shutdown(5 * time.Second)
	}
}

// otherHostIds returns every configured host but self, the ping sweep's
// target set (spec §4.5): the master pings every configured host, not
// just the current ring, so a downed host outside the ring is still
// tracked well enough for the oracle to bring it back once it recovers.
func (s *server) otherHostIds() []int {
	ids := make([]int, 0, len(s.group.Hosts)-1)
	for i := range s.group.Hosts {
		if i != s.self {
			ids = append(ids, i)
		}
	}
	return ids
}
