package adminapi

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// Server hosts the AdminAPI gRPC service on its own listener, separate
// from pkg/server's data-plane socket.
type Server struct {
	grpc *grpc.Server
}

// TLSConfig optionally wraps the listener in mTLS, the same
// tls.Config shape pkg/api/server.go's NewServer builds for the
// data-plane's predecessor. Left nil by default: the admin plane binds
// loopback-only and trusts its caller the way a debug pprof endpoint
// does, per SPEC_FULL.md §4.11 ("certificates optional here —
// defaults to plaintext loopback-only").
type TLSConfig struct {
	Cert   tls.Certificate
	CAPool *x509.CertPool // non-nil ClientCAs pool, reused verbatim if set
}

// NewServer builds a Server around svc. If tlsCfg is non-nil the
// listener requires and verifies client certificates exactly as
// pkg/api/server.go's mTLS setup does; otherwise it serves plaintext.
func NewServer(svc *Service, tlsCfg *TLSConfig) *Server {
	var opts []grpc.ServerOption
	opts = append(opts, grpc.UnaryInterceptor(LoggingInterceptor()))
	if tlsCfg != nil {
		creds := credentials.NewTLS(&tls.Config{
			ClientAuth:   tls.RequireAndVerifyClientCert,
			Certificates: []tls.Certificate{tlsCfg.Cert},
			ClientCAs:    tlsCfg.CAPool,
			MinVersion:   tls.VersionTLS13,
		})
		opts = append(opts, grpc.Creds(creds))
	}

	grpcServer := grpc.NewServer(opts...)
	RegisterAdminAPIServer(grpcServer, svc)

	return &Server{grpc: grpcServer}
}

// Start listens on addr and blocks serving until Stop is called.
// Callers that want the admin plane to be loopback-only (the default
// posture) should pass a "127.0.0.1:port" address.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("adminapi: listen: %w", err)
	}
	return s.grpc.Serve(lis)
}

// Stop gracefully drains in-flight RPCs and stops the server.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}
