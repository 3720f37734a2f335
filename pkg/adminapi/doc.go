/*
Package adminapi is a read-only gRPC status plane for a resql node:
ClusterStatus, ListMembers, ListSessions (SPEC_FULL.md §4.11). It never
proposes a log entry — the hand-framed wire protocol in pkg/client and
pkg/server/dispatch.go remains the only path that can mutate replicated
state, exactly as spec.md §6 requires.

# Why no generated .proto stubs

The corpus this service is modeled on (pkg/api/server.go) generates its
request/response types with protoc-gen-go from a checked-in .proto
file. No such file ships for this status plane, and no protoc toolchain
runs as part of building this module, so ClusterStatus/ListMembers/
ListSessions exchange google.golang.org/protobuf's own well-known
types — emptypb.Empty requests, structpb.Struct responses — which
already implement proto.Message without any code generation step. The
gRPC service registration that protoc-gen-go-grpc would normally emit
is written by hand in service.go's serviceDesc var; it is the same
grpc.ServiceDesc/grpc.MethodDesc shape the generator produces, just
authored directly.

# Serving

	node := srv.Node()           // *consensus.Node, from pkg/server.Server
	ap := srv.Applier()          // *applier.State
	svc := adminapi.New(node, ap.Meta, ap.Sessions)
	admin := adminapi.NewServer(svc, nil) // nil: plaintext loopback
	go admin.Start("127.0.0.1:7601")
	defer admin.Stop()

Passing a non-nil *TLSConfig switches the listener to
RequireAndVerifyClientCert mTLS, the same posture pkg/api/server.go
used for Warren's control plane; wiring an actual certificate source
for that path is left as a deployment-specific extension, since
SPEC_FULL.md scopes resql's own certificate issuance out.

# Reading the accessors from outside the event loop

pkg/server.Server runs consensus.Node.Tick and friends on a single
goroutine (spec.md §5). adminapi calls only Node's plain accessor
methods (IsLeader, Term, CommitIndex, ...) — never a method that
mutates state — from its own gRPC goroutines, the same pattern
pkg/metrics's Collector already relies on to poll the same node
concurrently with its event loop.

# See also

  - pkg/server for the data-plane event loop this plane observes
  - pkg/client for the wire-protocol SDK that performs actual writes
  - pkg/metrics for the Prometheus exposition of the same accessors
*/
package adminapi
