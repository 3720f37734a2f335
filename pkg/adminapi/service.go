// Package adminapi implements the read-only gRPC status plane
// described by SPEC_FULL.md §4.11: ClusterStatus, ListMembers, and
// ListSessions. It never proposes a log entry — spec.md §6 fixes the
// data-plane wire protocol as the sole path for replicated operations,
// so this plane only reads already-applied state.
package adminapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/resql/resql/pkg/clustermeta"
	"github.com/resql/resql/pkg/session"
)

// Cluster is the subset of *consensus.Node's accessor methods the
// admin plane polls. Declared as an interface, not a concrete
// dependency on pkg/consensus, so a fake can stand in for tests
// without assembling a full node (the pattern pkg/metrics's Collector
// established for the same accessors).
type Cluster interface {
	IsLeader() bool
	Term() uint64
	Leader() string
	CommitIndex() uint64
	LastLogIndex() uint64
	VoterCount() int
	ConnectedPeerCount() int
}

// Service implements the AdminAPI gRPC service. Its three RPCs are
// registered by hand in serviceDesc below rather than via generated
// *.pb.go stubs: the corpus this module was grown from ships no
// checked-in .proto/protoc-gen-go output for a status plane, and
// google.golang.org/protobuf's well-known structpb.Struct/emptypb.Empty
// types already satisfy proto.Message without any generated code, so
// every RPC here is typed in terms of those instead.
type Service struct {
	cluster  Cluster
	meta     *clustermeta.Meta
	sessions *session.Table
}

// New binds a Service to the live cluster state it reports on.
func New(cluster Cluster, meta *clustermeta.Meta, sessions *session.Table) *Service {
	return &Service{cluster: cluster, meta: meta, sessions: sessions}
}

// ClusterStatus reports this node's consensus role, term, and commit
// position.
func (s *Service) ClusterStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"cluster":         s.meta.Cluster,
		"is_leader":       s.cluster.IsLeader(),
		"leader":          s.cluster.Leader(),
		"term":            float64(s.cluster.Term()),
		"commit_index":    float64(s.cluster.CommitIndex()),
		"last_log_index":  float64(s.cluster.LastLogIndex()),
		"voter_count":     float64(s.cluster.VoterCount()),
		"connected_peers": float64(s.cluster.ConnectedPeerCount()),
	})
}

// ListMembers reports every node in the current membership view,
// leader-first, the same ordering spec.md §6's CONNECT_RESP node list
// uses.
func (s *Service) ListMembers(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	ordered := make([]clustermeta.Node, 0, len(s.meta.Nodes))
	for _, n := range s.meta.Nodes {
		if n.Role == clustermeta.RoleLeader {
			ordered = append(ordered, n)
		}
	}
	for _, n := range s.meta.Nodes {
		if n.Role != clustermeta.RoleLeader {
			ordered = append(ordered, n)
		}
	}
	members := make([]any, 0, len(ordered))
	for _, n := range ordered {
		members = append(members, map[string]any{
			"name":      n.Name,
			"role":      n.Role.String(),
			"connected": n.Connected,
			"urls":      toAnySlice(n.URLs),
		})
	}
	return structpb.NewStruct(map[string]any{"members": members})
}

// ListSessions reports every tracked client session, live or
// soft-disconnected, without exposing cached response bytes or
// prepared-statement text (an operator tool, not a debugger).
func (s *Service) ListSessions(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	all := s.sessions.All()
	sessions := make([]any, 0, len(all))
	for _, sess := range all {
		sessions = append(sessions, map[string]any{
			"name":            sess.Name,
			"id":              float64(sess.ID),
			"seq":             float64(sess.Seq),
			"remote":          sess.Remote,
			"connect_time":    float64(sess.ConnectTime),
			"disconnect_time": float64(sess.DisconnectTime),
			"prepared_stmts":  float64(len(sess.Statements)),
		})
	}
	return structpb.NewStruct(map[string]any{"sessions": sessions})
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// serviceDesc is the hand-written equivalent of what protoc-gen-go-grpc
// would emit for a one-file AdminAPI.proto: one gRPC service, three
// unary methods, each decoding an emptypb.Empty request and encoding a
// structpb.Struct response.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "resql.adminapi.AdminAPI",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ClusterStatus", Handler: clusterStatusHandler},
		{MethodName: "ListMembers", Handler: listMembersHandler},
		{MethodName: "ListSessions", Handler: listSessionsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "adminapi.proto",
}

func clusterStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	svc := srv.(*Service)
	if interceptor == nil {
		return svc.ClusterStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: svc, FullMethod: "/resql.adminapi.AdminAPI/ClusterStatus"}
	handler := func(ctx context.Context, req any) (any, error) {
		return svc.ClusterStatus(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func listMembersHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	svc := srv.(*Service)
	if interceptor == nil {
		return svc.ListMembers(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: svc, FullMethod: "/resql.adminapi.AdminAPI/ListMembers"}
	handler := func(ctx context.Context, req any) (any, error) {
		return svc.ListMembers(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func listSessionsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	svc := srv.(*Service)
	if interceptor == nil {
		return svc.ListSessions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: svc, FullMethod: "/resql.adminapi.AdminAPI/ListSessions"}
	handler := func(ctx context.Context, req any) (any, error) {
		return svc.ListSessions(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterAdminAPIServer registers svc on grpcServer, the hand-written
// stand-in for a generated proto.RegisterAdminAPIServer function.
func RegisterAdminAPIServer(grpcServer *grpc.Server, svc *Service) {
	grpcServer.RegisterService(&serviceDesc, svc)
}
