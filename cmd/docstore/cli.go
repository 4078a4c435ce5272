package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/tailored-agentic-units/docstore/docstore"
	"github.com/tailored-agentic-units/docstore/observability"
	"github.com/tailored-agentic-units/docstore/remote"
	"github.com/tailored-agentic-units/docstore/storage"
)

// CliConfig contains the process-level settings for Cli.
type CliConfig struct {
	Name        string
	Description string
	Exit        func(int)
	Stdout      io.Writer
	Stderr      io.Writer
}

// NewCliConfig returns a CliConfig bound to the process stdio.
func NewCliConfig() *CliConfig {
	return &CliConfig{
		Name:        "docstore",
		Description: "Inspect and modify a docstore database, or serve it over HTTP.",
		Exit:        os.Exit,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
	}
}

type runtime struct {
	ctx    context.Context
	db     *docstore.DB
	logger *slog.Logger
	stdout io.Writer
}

type cli struct {
	Config         string `short:"c" help:"JSON config file; environment (DOCSTORE_*) and flags override it."`
	Backend        string `short:"b" help:"Storage backend: file, memory, bolt, sqlite, remote."`
	Path           string `short:"p" help:"Database file, or server URL for the remote backend."`
	Format         string `help:"File encoding for the file backend: json or proto."`
	Cache          bool   `help:"Enable the write-behind cache."`
	FlushThreshold int    `help:"Writes buffered before the cache flushes."`
	Verbose        bool   `short:"v" help:"Log every storage operation to stderr."`

	Tables  tablesCmd  `cmd:"" help:"List table names."`
	Insert  insertCmd  `cmd:"" help:"Insert JSON documents and print their ids."`
	Get     getCmd     `cmd:"" help:"Print one document as JSON."`
	List    listCmd    `cmd:"" help:"Print every document of a table as JSON lines."`
	Update  updateCmd  `cmd:"" help:"Set fields on a document."`
	Remove  removeCmd  `cmd:"" help:"Remove documents by id."`
	Drop    dropCmd    `cmd:"" help:"Drop tables."`
	Backup  backupCmd  `cmd:"" help:"Write a backup of the database."`
	Restore restoreCmd `cmd:"" help:"Replace the database with a backup."`
	Info    infoCmd    `cmd:"" help:"Summarize tables and document counts."`
	Serve   serveCmd   `cmd:"" help:"Serve the database over HTTP for remote clients."`
}

// Cli parses args, opens the configured database, and runs the selected
// subcommand. Taking args and writers explicitly keeps subcommands testable.
func Cli(ctx context.Context, args []string, config *CliConfig) (rc int, err error) {
	var c cli
	parser, err := kong.New(&c,
		kong.Name(config.Name),
		kong.Description(config.Description),
		kong.Exit(config.Exit),
		kong.Writers(config.Stdout, config.Stderr),
	)
	if err != nil {
		return 1, err
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		fmt.Fprintf(config.Stderr, "%s: error: %v\n", config.Name, err)
		return 1, err
	}

	cfg, err := c.config()
	if err != nil {
		fmt.Fprintf(config.Stderr, "%s: error: %v\n", config.Name, err)
		return 1, err
	}

	level := slog.LevelWarn
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(config.Stderr, &slog.HandlerOptions{Level: level}))

	db, err := docstore.Open(ctx, cfg, docstore.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(config.Stderr, "%s: error: %v\n", config.Name, err)
		return 1, err
	}

	rt := &runtime{ctx: ctx, db: db, logger: logger, stdout: config.Stdout}
	err = errors.Join(kctx.Run(rt), db.Close())
	if err != nil {
		fmt.Fprintf(config.Stderr, "%s: error: %v\n", config.Name, err)
		return 1, err
	}
	return 0, nil
}

// config layers defaults, the config file, DOCSTORE_* variables and flags,
// in increasing precedence.
func (c *cli) config() (*docstore.Config, error) {
	cfg := docstore.DefaultConfig()
	if c.Config != "" {
		loaded, err := docstore.LoadConfig(c.Config)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}
	if err := cfg.ParseEnv(); err != nil {
		return nil, err
	}

	cfg.Storage.Merge(&storage.Config{Backend: c.Backend, Path: c.Path, Format: c.Format})
	if c.Cache {
		cfg.Cache.Enabled = true
	}
	if c.FlushThreshold > 0 {
		cfg.Cache.FlushThreshold = c.FlushThreshold
	}
	if c.Verbose {
		cfg.Trace = true
	}
	return &cfg, nil
}

type tablesCmd struct{}

func (tablesCmd) Run(rt *runtime) error {
	names, err := rt.db.Tables(rt.ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(rt.stdout, name)
	}
	return nil
}

type insertCmd struct {
	Table     string   `short:"t" help:"Table name; defaults to the default table."`
	Documents []string `arg:"" help:"JSON objects to insert."`
}

func (c *insertCmd) Run(rt *runtime) error {
	docs := make([]storage.Document, len(c.Documents))
	for i, raw := range c.Documents {
		doc, err := storage.ParseDocument([]byte(raw))
		if err != nil {
			return fmt.Errorf("document %d: %w", i+1, err)
		}
		docs[i] = doc
	}

	ids, err := rt.db.Table(c.Table).InsertMultiple(rt.ctx, docs...)
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Fprintln(rt.stdout, id)
	}
	return nil
}

type getCmd struct {
	Table string `short:"t" help:"Table name; defaults to the default table."`
	ID    int    `arg:"" help:"Document id."`
}

func (c *getCmd) Run(rt *runtime) error {
	doc, err := rt.db.Table(c.Table).Get(rt.ctx, c.ID)
	if err != nil {
		return err
	}
	return json.NewEncoder(rt.stdout).Encode(doc)
}

type record struct {
	ID  int              `json:"id"`
	Doc storage.Document `json:"doc"`
}

type listCmd struct {
	Table string `short:"t" help:"Table name; defaults to the default table."`
}

func (c *listCmd) Run(rt *runtime) error {
	records, err := rt.db.Table(c.Table).All(rt.ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(rt.stdout)
	for _, r := range records {
		if err := enc.Encode(record{ID: r.ID, Doc: r.Doc}); err != nil {
			return err
		}
	}
	return nil
}

type updateCmd struct {
	Table  string `short:"t" help:"Table name; defaults to the default table."`
	ID     int    `arg:"" help:"Document id."`
	Fields string `arg:"" help:"JSON object of fields to set."`
}

func (c *updateCmd) Run(rt *runtime) error {
	fields, err := storage.ParseDocument([]byte(c.Fields))
	if err != nil {
		return err
	}
	return rt.db.Table(c.Table).Update(rt.ctx, c.ID, fields)
}

type removeCmd struct {
	Table string `short:"t" help:"Table name; defaults to the default table."`
	IDs   []int  `arg:"" help:"Document ids."`
}

func (c *removeCmd) Run(rt *runtime) error {
	return rt.db.Table(c.Table).RemoveIDs(rt.ctx, c.IDs...)
}

type dropCmd struct {
	All    bool     `help:"Drop every table."`
	Tables []string `arg:"" optional:"" help:"Tables to drop."`
}

func (c *dropCmd) Run(rt *runtime) error {
	if c.All {
		return rt.db.DropTables(rt.ctx)
	}
	if len(c.Tables) == 0 {
		return fmt.Errorf("drop requires table names or --all")
	}
	for _, name := range c.Tables {
		if err := rt.db.DropTable(rt.ctx, name); err != nil {
			return err
		}
	}
	return nil
}

type backupCmd struct {
	Path string `arg:"" help:"Backup file to write."`
}

func (c *backupCmd) Run(rt *runtime) error {
	return rt.db.Backup(rt.ctx, c.Path)
}

type restoreCmd struct {
	Path string `arg:"" help:"Backup file to read."`
}

func (c *restoreCmd) Run(rt *runtime) error {
	return rt.db.Restore(rt.ctx, c.Path)
}

type infoCmd struct{}

func (infoCmd) Run(rt *runtime) error {
	fmt.Fprintln(rt.stdout, rt.db.String())
	return nil
}

type serveCmd struct {
	Addr string `default:":8080" help:"Listen address."`
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (c *serveCmd) Run(rt *runtime) error {
	mux := http.NewServeMux()
	mux.Handle(remote.NewHandler(rt.db.Storage(), remote.WithObserver(observability.NewSlogObserver(rt.logger))))

	srv := &http.Server{Addr: c.Addr, Handler: mux}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	rt.logger.Info("serving", "addr", c.Addr, "path", remote.ServicePath)

	select {
	case err := <-errc:
		return err
	case <-rt.ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
