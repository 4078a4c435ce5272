package remote

import (
	"context"
	"strings"
	"sync"

	"connectrpc.com/connect"
	"github.com/tailored-agentic-units/docstore/observability"
	"github.com/tailored-agentic-units/docstore/storage"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client is a storage.Transactional backed by a remote Handler. Transactions
// are held by the server's storage, so every client of one server shares
// them.
type Client struct {
	read     *connect.Client[emptypb.Empty, structpb.Value]
	write    *connect.Client[structpb.Value, emptypb.Empty]
	begin    *connect.Client[emptypb.Empty, emptypb.Empty]
	commit   *connect.Client[emptypb.Empty, emptypb.Empty]
	rollback *connect.Client[emptypb.Empty, emptypb.Empty]
	backup   *connect.Client[wrapperspb.StringValue, emptypb.Empty]
	restore  *connect.Client[wrapperspb.StringValue, emptypb.Empty]
	observer observability.Observer
	closed   bool
	mu       sync.Mutex
}

var _ storage.Transactional = (*Client)(nil)

// NewClient creates a Client for the server at baseURL. No connection is
// made until the first call.
func NewClient(baseURL string, opts ...Option) *Client {
	o := newOptions(opts)
	base := strings.TrimRight(baseURL, "/")

	return &Client{
		read:     connect.NewClient[emptypb.Empty, structpb.Value](o.httpClient, base+ReadProcedure),
		write:    connect.NewClient[structpb.Value, emptypb.Empty](o.httpClient, base+WriteProcedure),
		begin:    connect.NewClient[emptypb.Empty, emptypb.Empty](o.httpClient, base+BeginProcedure),
		commit:   connect.NewClient[emptypb.Empty, emptypb.Empty](o.httpClient, base+CommitProcedure),
		rollback: connect.NewClient[emptypb.Empty, emptypb.Empty](o.httpClient, base+RollbackProcedure),
		backup:   connect.NewClient[wrapperspb.StringValue, emptypb.Empty](o.httpClient, base+BackupProcedure),
		restore:  connect.NewClient[wrapperspb.StringValue, emptypb.Empty](o.httpClient, base+RestoreProcedure),
		observer: o.observer,
	}
}

func (c *Client) Read(ctx context.Context) (storage.State, error) {
	if err := c.open(); err != nil {
		return nil, err
	}
	res, err := c.read.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return nil, c.fail(ctx, ReadProcedure, err)
	}
	c.done(ctx, ReadProcedure)
	return storage.FromValue(res.Msg)
}

func (c *Client) Write(ctx context.Context, state storage.State) error {
	if err := c.open(); err != nil {
		return err
	}
	if state == nil {
		state = storage.State{}
	}
	v, err := encodeState(state)
	if err != nil {
		return err
	}
	if _, err := c.write.CallUnary(ctx, connect.NewRequest(v)); err != nil {
		return c.fail(ctx, WriteProcedure, err)
	}
	c.done(ctx, WriteProcedure)
	return nil
}

func (c *Client) Begin(ctx context.Context) error {
	return c.unit(ctx, BeginProcedure, c.begin)
}

func (c *Client) Commit(ctx context.Context) error {
	return c.unit(ctx, CommitProcedure, c.commit)
}

func (c *Client) Rollback(ctx context.Context) error {
	return c.unit(ctx, RollbackProcedure, c.rollback)
}

// Backup asks the server to write its State to path on the server host.
func (c *Client) Backup(ctx context.Context, path string) error {
	return c.path(ctx, BackupProcedure, c.backup, path)
}

// Restore asks the server to load the State stored at path on the server
// host.
func (c *Client) Restore(ctx context.Context, path string) error {
	return c.path(ctx, RestoreProcedure, c.restore, path)
}

// Close marks the client closed. The server's storage stays open.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Client) open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return storage.ErrClosed
	}
	return nil
}

func (c *Client) unit(ctx context.Context, procedure string, call *connect.Client[emptypb.Empty, emptypb.Empty]) error {
	if err := c.open(); err != nil {
		return err
	}
	if _, err := call.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{})); err != nil {
		return c.fail(ctx, procedure, err)
	}
	c.done(ctx, procedure)
	return nil
}

func (c *Client) path(ctx context.Context, procedure string, call *connect.Client[wrapperspb.StringValue, emptypb.Empty], path string) error {
	if err := c.open(); err != nil {
		return err
	}
	if _, err := call.CallUnary(ctx, connect.NewRequest(wrapperspb.String(path))); err != nil {
		return c.fail(ctx, procedure, err)
	}
	c.done(ctx, procedure)
	return nil
}

func (c *Client) done(ctx context.Context, procedure string) {
	c.observer.OnEvent(ctx, observability.NewEvent(EventCall, observability.LevelVerbose, "remote.Client", map[string]any{
		"procedure": procedure,
	}))
}

func (c *Client) fail(ctx context.Context, procedure string, err error) error {
	c.observer.OnEvent(ctx, observability.NewEvent(EventError, observability.LevelError, "remote.Client", map[string]any{
		"procedure": procedure,
		"code":      connect.CodeOf(err).String(),
	}))
	return fromConnect(err)
}
