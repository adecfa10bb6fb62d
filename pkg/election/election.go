package election

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/stride/pkg/log"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"
)

// Config holds the candidate's identity and storage locations.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// Candidate participates in leader election.
type Candidate struct {
	cfg    Config
	raft   *raft.Raft
	logger zerolog.Logger
}

// NewCandidate creates an idle candidate; call Bootstrap to join.
func NewCandidate(cfg Config) *Candidate {
	return &Candidate{
		cfg:    cfg,
		logger: log.WithComponent("election"),
	}
}

// Bootstrap starts a single-node Raft cluster with this node as the only
// member. This package has no operation that adds further nodes to the
// cluster.
func (c *Candidate) Bootstrap() error {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(c.cfg.NodeID)

	// Hashicorp Raft defaults target WAN deployments; control planes run
	// on a LAN and want failover well under ten seconds.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", c.cfg.BindAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(c.cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(c.cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(c.cfg.DataDir, "raft-log.db"))
	if err != nil {
		return fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(c.cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return fmt.Errorf("failed to create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, &noopFSM{}, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("failed to create raft: %w", err)
	}
	c.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{
				ID:      config.LocalID,
				Address: transport.LocalAddr(),
			},
		},
	}
	future := c.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil && err != raft.ErrCantBootstrap {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}

	c.logger.Info().Str("node_id", c.cfg.NodeID).Str("bind_addr", c.cfg.BindAddr).Msg("election candidate started")
	return nil
}

// LeaderCh delivers true when this node gains leadership and false when it
// loses it.
func (c *Candidate) LeaderCh() <-chan bool {
	return c.raft.LeaderCh()
}

// IsLeader reports whether this node currently leads.
func (c *Candidate) IsLeader() bool {
	return c.raft != nil && c.raft.State() == raft.Leader
}

// Shutdown leaves the cluster.
func (c *Candidate) Shutdown() error {
	if c.raft == nil {
		return nil
	}
	return c.raft.Shutdown().Error()
}

// noopFSM satisfies raft.FSM; the log carries no commands because cluster
// state lives in the repositories.
type noopFSM struct{}

func (f *noopFSM) Apply(*raft.Log) interface{} { return nil }

func (f *noopFSM) Snapshot() (raft.FSMSnapshot, error) { return &noopSnapshot{}, nil }

func (f *noopFSM) Restore(rc io.ReadCloser) error { return rc.Close() }

type noopSnapshot struct{}

func (s *noopSnapshot) Persist(sink raft.SnapshotSink) error { return sink.Close() }

func (s *noopSnapshot) Release() {}
