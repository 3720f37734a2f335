package consensus

import (
	"context"
	"fmt"

	"github.com/resql/resql/pkg/clustermeta"
	"github.com/resql/resql/pkg/entry"
)

// ownMetaCommitted reports whether this leader's own META entry for
// the current term has already committed — spec.md §4.7's gate on
// proposing any further membership change ("Only a leader whose own
// META entry of this term has been committed is authorized to propose
// further changes").
func (n *Node) ownMetaCommitted() bool {
	return n.meta.Term == n.currentTerm && n.meta.Index <= n.commitIndex()
}

// ProposeAddNode validates and appends a META entry adding name/uri to
// the cluster. Only callable on the leader.
func (n *Node) ProposeAddNode(name, uri string) error {
	if n.role != RoleLeader {
		return fmt.Errorf("consensus: add-node requires leadership")
	}
	if !n.ownMetaCommitted() {
		return fmt.Errorf("consensus: a membership change is already in flight")
	}
	if err := n.meta.Add(name, uri); err != nil {
		return err
	}
	return n.proposeMeta()
}

// ProposeRemoveNode mirrors ProposeAddNode for node removal.
func (n *Node) ProposeRemoveNode(name string) error {
	if n.role != RoleLeader {
		return fmt.Errorf("consensus: remove-node requires leadership")
	}
	if !n.ownMetaCommitted() {
		return fmt.Errorf("consensus: a membership change is already in flight")
	}
	if err := n.meta.Remove(name); err != nil {
		return err
	}
	return n.proposeMeta()
}

func (n *Node) proposeMeta() error {
	payload, err := clustermeta.Encode(n.meta)
	if err != nil {
		return err
	}
	index, err := n.log.CreateEntry(n.currentTerm, 0, 0, entry.FlagMeta, payload)
	if err != nil {
		return err
	}
	n.meta.Index = index
	n.meta.Term = n.currentTerm
	n.syncPeers()
	if e, ok := n.log.EntryAt(index); ok {
		return n.applyIndex(context.Background(), index, e)
	}
	return nil
}
