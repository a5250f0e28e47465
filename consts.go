package server

import (
	"time"
)

const (
	ServerVersion = "dev"

	// Group limits. A group is at most 64 hosts (§2), so a set of hosts
	// fits a 64-bit mask.
	MaxGroupSize = 64

	// Datagram framing (§6, §4.9).
	MaxDatagramSize = 8950

	// Defaults for bootstrap-configurable timeouts (§6). The bootstrap
	// JSON may override every one of these.
	DefaultSinglePingTimeout    = 200 * time.Millisecond
	DefaultNoHeartbeatTimeout   = 2 * time.Second
	DefaultPingInterval         = 100 * time.Millisecond
	DefaultPhase1Timeout        = 500 * time.Millisecond
	DefaultPhase2Timeout        = 500 * time.Millisecond
	DefaultSetRingTimeout       = time.Second
	DefaultLookupRingRetry      = 2 * time.Second
	DefaultRecoveryGracePeriod  = 3 * time.Second
	DefaultInstanceRetryInterval = time.Second
	DefaultReconnectDelay       = time.Second

	// Window / batch sizes (§3, §4.2, §4.4, §4.8).
	DefaultPendingInstancesLimit   = 10000
	DefaultCommittedInstancesLimit = 10000
	DefaultPhase1BatchSize         = 100
	DefaultCommitPiggybackBatch    = 10
	DefaultValueCacheSize          = 10000
	DefaultRecoveryBatchSize       = 6000

	MaxValueSize = 8000

	HttpProfilePort = 6060
)
