package remote

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"github.com/tailored-agentic-units/docstore/observability"
	"github.com/tailored-agentic-units/docstore/storage"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type server struct {
	store    storage.Transactional
	observer observability.Observer
}

// NewHandler serves store under ServicePath. It returns the path to mount
// the handler on, matching the shape of generated connect constructors.
func NewHandler(store storage.Transactional, opts ...Option) (string, http.Handler) {
	o := newOptions(opts)
	s := &server{store: store, observer: o.observer}

	mux := http.NewServeMux()
	mux.Handle(ReadProcedure, connect.NewUnaryHandler(ReadProcedure, s.read))
	mux.Handle(WriteProcedure, connect.NewUnaryHandler(WriteProcedure, s.write))
	mux.Handle(BeginProcedure, s.unit(BeginProcedure, store.Begin))
	mux.Handle(CommitProcedure, s.unit(CommitProcedure, store.Commit))
	mux.Handle(RollbackProcedure, s.unit(RollbackProcedure, store.Rollback))
	mux.Handle(BackupProcedure, s.path(BackupProcedure, store.Backup))
	mux.Handle(RestoreProcedure, s.path(RestoreProcedure, store.Restore))
	return ServicePath, mux
}

func (s *server) read(ctx context.Context, _ *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Value], error) {
	state, err := s.store.Read(ctx)
	if err != nil {
		return nil, s.fail(ctx, ReadProcedure, err)
	}
	v, err := encodeState(state)
	if err != nil {
		return nil, s.fail(ctx, ReadProcedure, err)
	}
	s.done(ctx, ReadProcedure)
	return connect.NewResponse(v), nil
}

func (s *server) write(ctx context.Context, req *connect.Request[structpb.Value]) (*connect.Response[emptypb.Empty], error) {
	state, err := storage.FromValue(req.Msg)
	if err != nil {
		return nil, s.fail(ctx, WriteProcedure, err)
	}
	if state == nil {
		state = storage.State{}
	}
	if err := s.store.Write(ctx, state); err != nil {
		return nil, s.fail(ctx, WriteProcedure, err)
	}
	s.done(ctx, WriteProcedure)
	return connect.NewResponse(&emptypb.Empty{}), nil
}

func (s *server) unit(procedure string, fn func(context.Context) error) http.Handler {
	return connect.NewUnaryHandler(procedure, func(ctx context.Context, _ *connect.Request[emptypb.Empty]) (*connect.Response[emptypb.Empty], error) {
		if err := fn(ctx); err != nil {
			return nil, s.fail(ctx, procedure, err)
		}
		s.done(ctx, procedure)
		return connect.NewResponse(&emptypb.Empty{}), nil
	})
}

func (s *server) path(procedure string, fn func(context.Context, string) error) http.Handler {
	return connect.NewUnaryHandler(procedure, func(ctx context.Context, req *connect.Request[wrapperspb.StringValue]) (*connect.Response[emptypb.Empty], error) {
		if err := fn(ctx, req.Msg.GetValue()); err != nil {
			return nil, s.fail(ctx, procedure, err)
		}
		s.done(ctx, procedure)
		return connect.NewResponse(&emptypb.Empty{}), nil
	})
}

func (s *server) done(ctx context.Context, procedure string) {
	s.observer.OnEvent(ctx, observability.NewEvent(EventCall, observability.LevelVerbose, "remote.Handler", map[string]any{
		"procedure": procedure,
	}))
}

func (s *server) fail(ctx context.Context, procedure string, err error) error {
	s.observer.OnEvent(ctx, observability.NewEvent(EventError, observability.LevelError, "remote.Handler", map[string]any{
		"procedure": procedure,
		"error":     err.Error(),
	}))
	return toConnect(err)
}
