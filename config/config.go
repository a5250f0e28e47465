// Package config loads the bootstrap JSON configuration (spec §6
// "Bootstrap configuration") and derives the bootstrap epoch from its
// content hash. It is intentionally the only place in the core that does
// file I/O or JSON parsing, matching spec §1's framing of configuration
// loading as an external collaborator whose interface (not its internal
// mechanics) the core specifies.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"ringpaxos.io/server/guid"
)

// Host is one bootstrap-configured participant (spec §6).
type Host struct {
	Name                string `json:"name"`
	Datacenter          string `json:"datacenter"`
	MulticastListenAddr string `json:"multicast_listen_address"`
	MulticastReplyAddr  string `json:"multicast_reply_address"`
	MulticastSourceAddr string `json:"multicast_source_address"`
	RingAddr            string `json:"ring_address"`
	UnicastAddr         string `json:"unicast_address"`

	// RecoveryAddr is this host's TCP batch-recovery listen address
	// (spec §6 "TCP recovery protocol").
	RecoveryAddr string `json:"recovery_address"`
	// IngestAddr is this host's TCP client-value ingest listen address
	// (spec §6 "TCP client value ingest"); only the master need bind it.
	IngestAddr string `json:"ingest_address"`
	// MetricsAddr serves this host's Prometheus registry over HTTP.
	MetricsAddr string `json:"metrics_address"`
}

// Group is the full bootstrap configuration: the fixed host list (spec §2,
// up to 64 hosts, host 0 is the master/proposer) plus the scalar timeouts
// and window sizes spec §6 calls out.
type Group struct {
	Hosts     []Host `json:"hosts"`
	McastGroup string `json:"mcast_group"`

	SinglePingTimeout    time.Duration `json:"single_ping_timeout_ms"`
	NoHeartbeatTimeout   time.Duration `json:"no_heartbeat_timeout_ms"`
	PingInterval         time.Duration `json:"ping_interval_ms"`
	Phase1Timeout        time.Duration `json:"phase1_timeout_ms"`
	Phase2Timeout        time.Duration `json:"phase2_timeout_ms"`
	SetRingTimeout       time.Duration `json:"set_ring_timeout_ms"`
	LookupRingRetry      time.Duration `json:"lookup_ring_retry_ms"`
	RecoveryGracePeriod  time.Duration `json:"recovery_grace_period_ms"`
	InstanceRetryInterval time.Duration `json:"instance_retry_interval_ms"`
	ReconnectDelay       time.Duration `json:"reconnect_delay_ms"`

	PendingInstancesLimit   int `json:"pending_instances_limit"`
	CommittedInstancesLimit int `json:"committed_instances_limit"`
	Phase1BatchSize         int `json:"phase1_batch_size"`
	ValueCacheSize          int `json:"value_cache_size"`
	RecoveryBatchSize       int `json:"recovery_batch_size"`

	OkToMissDatacenter bool `json:"ok_to_miss_datacenter"`

	// Epoch is not part of the JSON; it is derived in Load from the raw
	// file content hash (spec §6: "The content hash of the file becomes
	// the bootstrap epoch GUID").
	Epoch guid.GUID `json:"-"`
}

// rawGroup lets json/encoding unmarshal millisecond integer fields into
// the Group's time.Duration fields without a custom UnmarshalJSON on every
// caller.
type rawGroup struct {
	Hosts      []Host `json:"hosts"`
	McastGroup string `json:"mcast_group"`

	SinglePingTimeoutMS    int64 `json:"single_ping_timeout_ms"`
	NoHeartbeatTimeoutMS   int64 `json:"no_heartbeat_timeout_ms"`
	PingIntervalMS         int64 `json:"ping_interval_ms"`
	Phase1TimeoutMS        int64 `json:"phase1_timeout_ms"`
	Phase2TimeoutMS        int64 `json:"phase2_timeout_ms"`
	SetRingTimeoutMS       int64 `json:"set_ring_timeout_ms"`
	LookupRingRetryMS      int64 `json:"lookup_ring_retry_ms"`
	RecoveryGracePeriodMS  int64 `json:"recovery_grace_period_ms"`
	InstanceRetryIntervalMS int64 `json:"instance_retry_interval_ms"`
	ReconnectDelayMS       int64 `json:"reconnect_delay_ms"`

	PendingInstancesLimit   int `json:"pending_instances_limit"`
	CommittedInstancesLimit int `json:"committed_instances_limit"`
	Phase1BatchSize         int `json:"phase1_batch_size"`
	ValueCacheSize          int `json:"value_cache_size"`
	RecoveryBatchSize       int `json:"recovery_batch_size"`

	OkToMissDatacenter bool `json:"ok_to_miss_datacenter"`
}

func ms(v int64, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}

func intOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Load reads and parses the bootstrap JSON file at path, applying defaults
// for any zero-valued scalar, and derives the bootstrap Epoch from the raw
// file bytes (spec §6).
func Load(path string) (*Group, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse is Load's in-memory counterpart, used by tests that don't want to
// touch the filesystem.
func Parse(data []byte) (*Group, error) {
	var raw rawGroup
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parsing bootstrap JSON: %w", err)
	}
	if len(raw.Hosts) == 0 {
		return nil, fmt.Errorf("config: bootstrap configuration has no hosts")
	}
	if len(raw.Hosts) > 64 {
		return nil, fmt.Errorf("config: group has %d hosts, exceeds the 64-host limit (spec §2)", len(raw.Hosts))
	}

	g := &Group{
		Hosts:                   raw.Hosts,
		McastGroup:              raw.McastGroup,
		SinglePingTimeout:       ms(raw.SinglePingTimeoutMS, 200*time.Millisecond),
		NoHeartbeatTimeout:      ms(raw.NoHeartbeatTimeoutMS, 2*time.Second),
		PingInterval:            ms(raw.PingIntervalMS, 100*time.Millisecond),
		Phase1Timeout:           ms(raw.Phase1TimeoutMS, 500*time.Millisecond),
		Phase2Timeout:           ms(raw.Phase2TimeoutMS, 500*time.Millisecond),
		SetRingTimeout:          ms(raw.SetRingTimeoutMS, time.Second),
		LookupRingRetry:         ms(raw.LookupRingRetryMS, 2*time.Second),
		RecoveryGracePeriod:     ms(raw.RecoveryGracePeriodMS, 3*time.Second),
		InstanceRetryInterval:   ms(raw.InstanceRetryIntervalMS, time.Second),
		ReconnectDelay:          ms(raw.ReconnectDelayMS, time.Second),
		PendingInstancesLimit:   intOr(raw.PendingInstancesLimit, 10000),
		CommittedInstancesLimit: intOr(raw.CommittedInstancesLimit, 10000),
		Phase1BatchSize:         intOr(raw.Phase1BatchSize, 100),
		ValueCacheSize:          intOr(raw.ValueCacheSize, 10000),
		RecoveryBatchSize:       intOr(raw.RecoveryBatchSize, 6000),
		OkToMissDatacenter:      raw.OkToMissDatacenter,
	}
	g.Epoch = guid.FromData(data)
	return g, nil
}

// NumAcceptors returns the first n configured hosts (all of them if n is
// larger), which are the acceptors. Acceptors occupy the low contiguous range [0, NumAcceptors); the rest
// are learners (spec §2).
func (g *Group) NumAcceptors(n int) []Host {
	if n > len(g.Hosts) {
		n = len(g.Hosts)
	}
	return g.Hosts[:n]
}

// Datacenter returns the datacenter of hostId, or "" if out of range.
func (g *Group) Datacenter(hostId int) string {
	if hostId < 0 || hostId >= len(g.Hosts) {
		return ""
	}
	return g.Hosts[hostId].Datacenter
}
