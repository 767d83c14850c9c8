package api

import (
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cuemby/courier/pkg/configserv"
	"github.com/cuemby/courier/pkg/log"
	"github.com/cuemby/courier/pkg/metrics"
)

// Server implements the config service on top of a subscriber registry
type Server struct {
	registry *configserv.Registry
	grpc     *grpc.Server
	logger   zerolog.Logger
}

// NewServer creates a new API server
func NewServer(registry *configserv.Registry, opts ...grpc.ServerOption) *Server {
	logger := log.WithComponent("api")
	opts = append(opts, grpc.ChainStreamInterceptor(StreamLoggingInterceptor(logger)))
	s := &Server{
		registry: registry,
		grpc:     grpc.NewServer(opts...),
		logger:   logger,
	}
	s.grpc.RegisterService(&ConfigServiceDesc, s)
	return s
}

// Start listens on addr and serves until Stop
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve serves on an existing listener
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC API listening")
	metrics.UpdateComponent(metrics.ComponentAPI, true, "serving")
	err := s.grpc.Serve(lis)
	metrics.UpdateComponent(metrics.ComponentAPI, false, "stopped")
	return err
}

// Stop gracefully stops the gRPC server. Open watches end when their
// clients go away, so a context-bound caller may prefer ForceStop.
func (s *Server) Stop() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}

// ForceStop closes every connection immediately
func (s *Server) ForceStop() {
	if s.grpc != nil {
		s.grpc.Stop()
	}
}

// Watch attaches the caller to the registry and streams snapshots until the
// client goes away
func (s *Server) Watch(req *WatchRequest, stream ConfigServiceWatchServer) error {
	key, err := configserv.ParseObserverKey(req.Labels, req.Annotations)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid selector: %v", err)
	}

	ctx := stream.Context()
	sub, err := s.registry.Subscribe(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			return status.FromContextError(ctx.Err()).Err()
		}
		return status.Errorf(codes.Unavailable, "subscribe: %v", err)
	}
	defer s.registry.Unsubscribe(sub)

	logger := log.WithObserverKey(s.logger, key.String())
	logger.Debug().Msg("Watch attached")

	for {
		select {
		case snap, ok := <-sub.C():
			if !ok {
				return status.Error(codes.Unavailable, "subscription closed")
			}
			if err := stream.Send(toMessage(snap)); err != nil {
				logger.Debug().Err(err).Msg("Watch send failed")
				return err
			}
		case <-ctx.Done():
			logger.Debug().Msg("Watch detached")
			return nil
		}
	}
}

func toMessage(snap *configserv.Snapshot) *SnapshotMessage {
	digest := snap.Digest
	return &SnapshotMessage{
		Key:      snap.Key.String(),
		Sequence: snap.Sequence,
		Digest:   digest[:],
		Encoded:  snap.Encoded,
	}
}
