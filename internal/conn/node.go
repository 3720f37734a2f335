package conn

// Peer tags a connection as a node-to-node (consensus/replication)
// connection. Unlike Client, its identity (Name) is known up front
// from cluster configuration rather than learned via a handshake.
type Peer struct {
	*Base
	Name      string
	Connected bool
}

// NewPeer wraps fd as a peer connection identified by name.
func NewPeer(fd int, remote, name string) *Peer {
	return &Peer{Base: NewBase(fd, KindNode, remote), Name: name}
}
