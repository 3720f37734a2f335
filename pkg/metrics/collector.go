package metrics

import (
	"time"

	"github.com/resql/resql/pkg/applier"
	"github.com/resql/resql/pkg/consensus"
	"github.com/resql/resql/pkg/logstore"
)

// Collector periodically samples a node's consensus/applier/log state
// into the package's prometheus gauges, in place of the teacher's
// manager-polling collector.
type Collector struct {
	node    *consensus.Node
	applier *applier.State
	log     *logstore.Store

	stopCh chan struct{}
}

// NewCollector returns a Collector for one node's state. node, ap, and
// log are the same instances pkg/server drives; the collector never
// mutates them.
func NewCollector(node *consensus.Node, ap *applier.State, log *logstore.Store) *Collector {
	return &Collector{
		node:    node,
		applier: ap,
		log:     log,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting on a ticker, in its own goroutine. This is
// deliberately not the event-loop goroutine: sampling gauges never
// touches consensus/applier state that isn't safe for a read from
// outside the loop (counters and index accessors only).
func (c *Collector) Start() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the collector's ticker goroutine.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.node.IsLeader() {
		IsLeader.Set(1)
	} else {
		IsLeader.Set(0)
	}
	Term.Set(float64(c.node.Term()))
	CommitIndex.Set(float64(c.node.CommitIndex()))
	VotersTotal.Set(float64(c.node.VoterCount()))
	ConnectedPeers.Set(float64(c.node.ConnectedPeerCount()))

	if c.applier != nil {
		AppliedIndex.Set(float64(c.applier.Index))
		SessionsTotal.Set(float64(c.applier.Sessions.Len()))
	}
	if c.log != nil {
		LogSizeBytes.Set(float64(c.log.SizeBytes()))
	}
}
