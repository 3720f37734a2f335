/*
Package client is a Go SDK for talking to a resql cluster over its
native wire protocol (spec.md §6) — the same hand-framed TCP codec
pkg/server decodes, not the read-only gRPC admin plane in pkg/adminapi.

# Architecture

	┌─────────────────── APPLICATION CODE ───────────────────┐
	│                                                          │
	│  import "github.com/resql/resql/pkg/client"             │
	│                                                          │
	│  c, err := client.Connect(client.Config{...})           │
	│  res, err := c.Exec(ctx, "INSERT INTO t VALUES(?)", p)  │
	│                                                          │
	└──────────────────┬───────────────────────────────────────┘
	                   │
	┌──────────────────▼──────── pkg/client ───────────────────┐
	│                                                            │
	│  CONNECT_REQ/RESP handshake, cluster-name validation       │
	│  CLIENT_REQ/RESP request/response round trip               │
	│  seq tracking for exactly-once semantics across reconnect  │
	│  NOT_LEADER redirect via the returned node list            │
	│                                                            │
	└──────────────────┬───────────────────────────────────────┘
	                   │ TCP, framed `u32 length | u8 type | body`
	                   ▼
	              resql node (pkg/server)

# Connecting

	c, err := client.Connect(client.Config{
		Nodes:       []string{"10.0.0.1:7600", "10.0.0.2:7600", "10.0.0.3:7600"},
		ClusterName: "prod",
		Name:        "billing-worker-3",
	})
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

Connect tries each address in order and follows CONNECT_RESP's
NOT_LEADER redirect (the node list it carries, leader first) until one
grants the session. A wrong cluster name fails immediately rather than
redirecting (spec.md §8 S7).

# Writes and reads

	idParam, _ := client.Positional(1, 42)
	bodyParam, _ := client.Positional(2, "payload")
	res, err := c.Exec(ctx, "INSERT INTO events (id, body) VALUES (?, ?)", idParam, bodyParam)

	res, err = c.Query(ctx, "SELECT id, body FROM events WHERE id = ?", idParam)
	for _, row := range res.Rows {
		fmt.Println(row[0], row[1])
	}

Query rides the read-index protocol (spec.md §4 "Readonly client
requests"): it never appends to the log, and is safe to execute only
once the leader's read-index round has been confirmed by a quorum, a
guarantee pkg/server's dispatcher, not this package, enforces.

# Prepared statements

	stmt, err := c.Prepare(ctx, "INSERT INTO t (id, name) VALUES (?, ?)")
	if err != nil {
		log.Fatal(err)
	}
	defer stmt.Close(ctx)

	idParam, _ := client.Positional(1, 0)
	nameParam, _ := client.Positional(2, "jane")
	res, err := stmt.Exec(ctx, idParam, nameParam)

A prepared statement's id is a log index (spec.md §4 "Session"); it
survives reconnects and snapshots because the session table that
stores it does.

# Exactly-once across failover

Each write carries a strictly increasing sequence number. If a request
is in flight when its leader fails, Connect/Close are unaffected — the
in-flight call's execBatch reconnects to the node the old leader's last
CONNECT_RESP pointed at and resends the identical seq. The new leader's
session table either already has that seq's result cached (the write
committed before failover) or it has not (the write is re-executed):
either way the caller sees the correct result exactly once (spec.md §7).

# See also

  - pkg/wire for the message and batch wire formats this package encodes/decodes
  - pkg/server/dispatch.go for the server side of this same protocol
  - pkg/adminapi for read-only cluster status over gRPC
*/
package client
