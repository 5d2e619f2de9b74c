// Package leader implementa un lease de liderazgo opcional basado en Raft,
// usado por el Dispatcher para cumplir "strict singleton semantics" cuando
// corren varias instancias (spec.md §4.6: "implementations SHOULD acquire a
// process-wide lock ... leadership lease"). Grounded en internal/cluster
// del profesor (NewNode/IsLeader/LeaderCh/Close), recortado a lo mínimo: no
// replica estado de aplicación, solo decide quién es el nodo activo.
package leader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// noopFSM no aplica mutaciones de dominio: el lease solo necesita que Raft
// elija un líder, no replicar estado del Dispatcher.
type noopFSM struct{}

func (noopFSM) Apply(*raft.Log) any                { return nil }
func (noopFSM) Snapshot() (raft.FSMSnapshot, error) { return noopSnapshot{}, nil }
func (noopFSM) Restore(rc io.ReadCloser) error      { return rc.Close() }

type noopSnapshot struct{}

func (noopSnapshot) Persist(sink raft.SnapshotSink) error { return sink.Close() }
func (noopSnapshot) Release()                             {}

// Lease envuelve un *raft.Raft de un solo propósito: IsLeader()/LeaderCh().
type Lease struct {
	r *raft.Raft
}

type Options struct {
	NodeID        string
	RaftAddr      string
	DataDir       string
	Peers         map[string]string
	SnapshotEvery int
	MaxLogMB      int
}

// New arranca (o se une a) el cluster Raft de liderazgo. Si len(Peers)<=1,
// hace bootstrap single-node; de lo contrario, bootstrap estático en el
// nodo de menor NodeID, igual que internal/cluster/node.go del profesor.
func New(opts Options) (*Lease, error) {
	if opts.NodeID == "" || opts.RaftAddr == "" || opts.DataDir == "" {
		return nil, errors.New("leader: invalid options")
	}
	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("leader: mkdir data dir: %w", err)
	}

	boltPath := filepath.Join(opts.DataDir, "raft.db")
	boltStore, err := raftboltdb.NewBoltStore(boltPath)
	if err != nil {
		return nil, fmt.Errorf("leader: bolt store: %w", err)
	}

	snapRetain := 2
	if opts.SnapshotEvery > 0 {
		snapRetain = opts.SnapshotEvery
	}
	snapStore, err := raft.NewFileSnapshotStore(opts.DataDir, snapRetain, os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("leader: snapshot store: %w", err)
	}

	trans, err := raft.NewTCPTransport(opts.RaftAddr, nil, 3, 10*time.Second, os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("leader: tcp transport: %w", err)
	}

	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(opts.NodeID)

	r, err := raft.NewRaft(cfg, noopFSM{}, boltStore, boltStore, snapStore, trans)
	if err != nil {
		return nil, fmt.Errorf("leader: new raft: %w", err)
	}

	hasState, err := raft.HasExistingState(boltStore, boltStore, snapStore)
	if err != nil {
		return nil, fmt.Errorf("leader: check state: %w", err)
	}
	if !hasState {
		if len(opts.Peers) <= 1 {
			conf := raft.Configuration{Servers: []raft.Server{{ID: cfg.LocalID, Address: trans.LocalAddr()}}}
			if err := r.BootstrapCluster(conf).Error(); err != nil {
				return nil, fmt.Errorf("leader: bootstrap: %w", err)
			}
		} else {
			smallest := opts.NodeID
			for k := range opts.Peers {
				if k < smallest {
					smallest = k
				}
			}
			if opts.NodeID == smallest {
				var servers []raft.Server
				for id, addr := range opts.Peers {
					servers = append(servers, raft.Server{ID: raft.ServerID(id), Address: raft.ServerAddress(addr)})
				}
				conf := raft.Configuration{Servers: servers}
				if err := r.BootstrapCluster(conf).Error(); err != nil {
					return nil, fmt.Errorf("leader: bootstrap static: %w", err)
				}
			}
		}
	}

	return &Lease{r: r}, nil
}

func (l *Lease) IsLeader() bool {
	if l == nil || l.r == nil {
		return true // sin cluster configurado, este proceso es el único: siempre "líder"
	}
	return l.r.State() == raft.Leader
}

func (l *Lease) LeaderCh() <-chan bool {
	if l == nil || l.r == nil {
		return nil
	}
	return l.r.LeaderCh()
}

func (l *Lease) Close(ctx context.Context) error {
	if l == nil || l.r == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- l.r.Shutdown().Error() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Static siempre reporta liderazgo: usado cuando cluster.mode=off.
type Static struct{}

func (Static) IsLeader() bool        { return true }
func (Static) LeaderCh() <-chan bool { return nil }
func (Static) Close(context.Context) error { return nil }

// Gate es la interfaz mínima que el Dispatcher necesita.
type Gate interface {
	IsLeader() bool
}
