// Package remote exposes a storage.Transactional over HTTP with connect and
// provides a Client that implements storage.Transactional against such a
// server. Messages are well-known protobuf types, so no generated code is
// needed: State travels as a google.protobuf.Value holding a Struct, paths as
// StringValue, and everything else as Empty.
//
//	path, handler := remote.NewHandler(store)
//	mux.Handle(path, handler)
//
//	client := remote.NewClient("http://localhost:8080")
//	state, err := client.Read(ctx)
//
// Backup and Restore paths are resolved on the server's filesystem.
package remote

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/tailored-agentic-units/docstore/observability"
	"github.com/tailored-agentic-units/docstore/storage"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "docstore.v1.StorageService"
	ServicePath = "/" + ServiceName + "/"

	ReadProcedure     = ServicePath + "Read"
	WriteProcedure    = ServicePath + "Write"
	BeginProcedure    = ServicePath + "Begin"
	CommitProcedure   = ServicePath + "Commit"
	RollbackProcedure = ServicePath + "Rollback"
	BackupProcedure   = ServicePath + "Backup"
	RestoreProcedure  = ServicePath + "Restore"
)

const (
	EventCall  observability.EventType = "remote.call"
	EventError observability.EventType = "remote.error"
)

// Option configures a Handler or Client.
type Option func(*options)

type options struct {
	httpClient connect.HTTPClient
	observer   observability.Observer
}

func newOptions(opts []Option) options {
	o := options{
		httpClient: http.DefaultClient,
		observer:   observability.NoOpObserver{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithObserver sets the observer receiving call and error events.
func WithObserver(obs observability.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithHTTPClient sets the HTTP client a Client sends requests with. Handlers
// ignore it.
func WithHTTPClient(c connect.HTTPClient) Option {
	return func(o *options) { o.httpClient = c }
}

var codes = []struct {
	err  error
	code connect.Code
}{
	{storage.ErrTransactionOpen, connect.CodeAlreadyExists},
	{storage.ErrNoTransaction, connect.CodeFailedPrecondition},
	{storage.ErrNotFound, connect.CodeNotFound},
	{storage.ErrMalformedState, connect.CodeDataLoss},
	{storage.ErrIO, connect.CodeUnavailable},
	{storage.ErrClosed, connect.CodeAborted},
	{storage.ErrNotTransactional, connect.CodeUnimplemented},
}

// toConnect converts a storage error into a connect error whose code
// identifies the sentinel.
func toConnect(err error) error {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return connect.NewError(c.code, err)
		}
	}
	return connect.NewError(connect.CodeInternal, err)
}

// fromConnect recovers the storage sentinel from a connect error. Transport
// failures surface as connect.CodeUnavailable and therefore as storage.ErrIO.
func fromConnect(err error) error {
	code := connect.CodeOf(err)
	msg := err.Error()
	var cerr *connect.Error
	if errors.As(err, &cerr) {
		msg = cerr.Message()
	}

	for _, c := range codes {
		if c.code == code {
			msg = strings.TrimPrefix(msg, c.err.Error()+": ")
			return fmt.Errorf("%w: %s", c.err, msg)
		}
	}
	return fmt.Errorf("remote %s: %s", code, msg)
}

// encodeState wraps state in a Value; the absent State is a null Value.
func encodeState(state storage.State) (*structpb.Value, error) {
	if state == nil {
		return structpb.NewNullValue(), nil
	}
	s, err := storage.ToStruct(state)
	if err != nil {
		return nil, err
	}
	return structpb.NewStructValue(s), nil
}
