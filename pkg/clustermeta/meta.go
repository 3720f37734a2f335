// Package clustermeta implements the cluster membership and
// leadership view of spec.md §4.5: node list, roles, connected flags,
// endpoint URLs, and a joint-state predecessor pointer used to roll
// back an in-flight membership change on truncation.
package clustermeta

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"net/url"
	"strings"
)

// Role is a node's role within the cluster as last recorded in Meta.
type Role int

const (
	RoleFollower Role = iota
	RoleLeader
)

func (r Role) String() string {
	if r == RoleLeader {
		return "leader"
	}
	return "follower"
}

// Node is one cluster member as recorded in Meta.
type Node struct {
	Name      string
	Role      Role
	Connected bool
	URLs      []string
}

// Meta is the replicated membership and leadership view of the
// cluster. It has structural equality: two Metas with the same fields
// (including Prev, recursively) compare equal.
type Meta struct {
	Cluster string
	Term    uint64
	Index   uint64
	Voters  int
	Nodes   []Node

	// Prev is the meta before the most recent membership change — the
	// joint-state predecessor used to roll back an uncommitted add/
	// remove on truncation. Expressed as an owned optional field
	// rather than an inheritance relationship (spec.md §9's cyclic
	// meta-to-meta note): on rollback-clearing, Prev is adopted and
	// dropped.
	Prev *Meta
}

// New returns an empty Meta for the given cluster name.
func New(cluster string) *Meta {
	return &Meta{Cluster: cluster}
}

// parsedURL is the validated decomposition of a node URL.
type parsedURL struct {
	scheme string
	user   string
	host   string
	port   string
	raw    string
}

func parseNodeURL(raw string) (parsedURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return parsedURL{}, fmt.Errorf("clustermeta: invalid url %q: %w", raw, err)
	}
	switch u.Scheme {
	case "tcp":
		if u.Hostname() == "" || u.Port() == "" || u.User == nil || u.User.Username() == "" {
			return parsedURL{}, fmt.Errorf("clustermeta: tcp url %q must have user-info, host and port", raw)
		}
		return parsedURL{scheme: u.Scheme, user: u.User.Username(), host: u.Hostname(), port: u.Port(), raw: raw}, nil
	case "unix":
		if u.Path == "" {
			return parsedURL{}, fmt.Errorf("clustermeta: unix url %q must have a path", raw)
		}
		return parsedURL{scheme: u.Scheme, user: u.Path, host: u.Path, raw: raw}, nil
	default:
		return parsedURL{}, fmt.Errorf("clustermeta: unsupported url scheme in %q", raw)
	}
}

// Add validates uri (scheme, host, port, user-info non-empty; the
// endpoint — scheme, host and port — unused by any other node), appends
// a new follower node, saves the current meta as Prev, and bumps Voters.
func (m *Meta) Add(name, uri string) error {
	parsed, err := parseNodeURL(uri)
	if err != nil {
		return err
	}
	for _, n := range m.Nodes {
		for _, existing := range n.URLs {
			ep, err := parseNodeURL(existing)
			if err == nil && ep.scheme == parsed.scheme && ep.host == parsed.host && ep.port == parsed.port {
				return fmt.Errorf("clustermeta: url %q already in use by node %q", uri, n.Name)
			}
		}
		if n.Name == name {
			return fmt.Errorf("clustermeta: node %q already exists", name)
		}
	}

	prev := m.clone()
	m.Nodes = append(m.Nodes, Node{Name: name, Role: RoleFollower, URLs: []string{uri}})
	m.Voters = len(m.Nodes)
	m.Prev = prev
	return nil
}

// Remove mirrors Add: drops the named node, saves Prev, updates Voters.
func (m *Meta) Remove(name string) error {
	idx := -1
	for i, n := range m.Nodes {
		if n.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("clustermeta: node %q not found", name)
	}
	prev := m.clone()
	m.Nodes = append(append([]Node{}, m.Nodes[:idx]...), m.Nodes[idx+1:]...)
	m.Voters = len(m.Nodes)
	m.Prev = prev
	return nil
}

// Rollback reverts to Prev if Prev exists and m.Index > index — i.e.
// the membership change being rolled back was proposed after the
// truncation point and never should have taken effect.
func (m *Meta) Rollback(index uint64) {
	if m.Prev != nil && m.Index > index {
		*m = *m.Prev
	}
}

// Replace adopts bytes wholesale, used on snapshot install.
func (m *Meta) Replace(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*m = *decoded
	return nil
}

// SetLeader marks name as leader (all others follower). It does not
// reorder Nodes; URLList builds the leader-first URL list CONNECT_RESP
// returns so clients can rebuild their endpoint set.
func (m *Meta) SetLeader(name string) {
	for i := range m.Nodes {
		if m.Nodes[i].Name == name {
			m.Nodes[i].Role = RoleLeader
		} else {
			m.Nodes[i].Role = RoleFollower
		}
	}
}

// CompleteChange clears Prev, marking a membership change fully
// applied (called when a META entry is applied at the same index it
// was proposed at).
func (m *Meta) CompleteChange() {
	m.Prev = nil
}

// URLList returns the space-separated, leader-first node URL list used
// in CONNECT_RESP and membership config values.
func (m *Meta) URLList() string {
	ordered := make([]Node, 0, len(m.Nodes))
	var leader *Node
	for i := range m.Nodes {
		if m.Nodes[i].Role == RoleLeader {
			leader = &m.Nodes[i]
		}
	}
	if leader != nil {
		ordered = append(ordered, *leader)
	}
	for _, n := range m.Nodes {
		if leader != nil && n.Name == leader.Name {
			continue
		}
		ordered = append(ordered, n)
	}

	parts := make([]string, 0, len(ordered))
	for _, n := range ordered {
		for _, u := range n.URLs {
			parts = append(parts, u)
		}
	}
	return strings.Join(parts, " ")
}

// Leader returns the current leader's name, or "" if none is set.
func (m *Meta) Leader() string {
	for _, n := range m.Nodes {
		if n.Role == RoleLeader {
			return n.Name
		}
	}
	return ""
}

// Equal reports structural equality, including Prev recursively.
func (m *Meta) Equal(other *Meta) bool {
	if m == nil || other == nil {
		return m == other
	}
	a, _ := Encode(m)
	b, _ := Encode(other)
	return bytes.Equal(a, b)
}

func (m *Meta) clone() *Meta {
	if m == nil {
		return nil
	}
	c := *m
	c.Nodes = append([]Node{}, m.Nodes...)
	c.Prev = m.Prev.clone()
	return &c
}

// Encode gob-encodes m for persistence and wire transfer (the
// snapshot's self-describing meta blob, see spec.md §4.6).
func Encode(m *Meta) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, fmt.Errorf("clustermeta: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode.
func Decode(data []byte) (*Meta, error) {
	var m Meta
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, fmt.Errorf("clustermeta: decode: %w", err)
	}
	return &m, nil
}
