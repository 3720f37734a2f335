package conn

// Client tags a connection as a client-facing data-plane connection.
// Its identity (Name) is only known once CONNECT_REQ succeeds;
// SessionID links it to the replicated session-table entry the applier
// owns.
type Client struct {
	*Base
	Name      string
	Connected bool
	SessionID uint64
}

// NewClient wraps fd as a not-yet-identified client connection.
func NewClient(fd int, remote string) *Client {
	return &Client{Base: NewBase(fd, KindClient, remote)}
}
