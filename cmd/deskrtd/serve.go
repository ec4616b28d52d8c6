package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/agentcore/deskrt/internal/backend"
	"github.com/agentcore/deskrt/internal/bridge"
	"github.com/agentcore/deskrt/internal/config"
	"github.com/agentcore/deskrt/internal/mcpmux"
	"github.com/agentcore/deskrt/internal/mcpmux/sources"
	agentrt "github.com/agentcore/deskrt/internal/runtime"
	"github.com/agentcore/deskrt/internal/storage"
	"github.com/agentcore/deskrt/internal/streambuf"
)

// ServeCmd starts the conversation runtime's HTTP bridge.
type ServeCmd struct {
	Addr string `short:"a" long:"addr" description:"listen address, overrides config"`
}

func (s *ServeCmd) Execute(_ []string) error {
	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = config.DefaultPath()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if s.Addr != "" {
		cfg.Addr = s.Addr
	}

	ctx := context.Background()
	db, err := storage.Open(ctx, "", cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	store := storage.New(db)
	if err := store.EnsureSystemUser(ctx); err != nil {
		return err
	}

	buf := streambuf.New(store, cfg.Streaming.BatchSize, cfg.Streaming.FlushInterval)
	bus := bridge.NewEventBus()
	resolver := backend.New(nil)
	mgr := agentrt.NewManager(store, buf, bus, resolver)

	mux := mcpmux.NewMultiplexer()
	prober := sources.NewProber(10 * time.Second)
	mux.Register(sources.NewLocalSource("", prober))
	mux.Register(sources.NewCLISource("codex", "codex", "",
		[]string{"mcp", "list"},
		func(s mcpmux.MCPServer) []string {
			switch s.Transport {
			case mcpmux.TransportStdio:
				return append([]string{"mcp", "add", s.Name, "--"}, append([]string{s.Command}, s.Args...)...)
			case mcpmux.TransportSSE, mcpmux.TransportHTTP, mcpmux.TransportStreamableHTTP:
				return []string{"mcp", "add", s.Name, "--url", s.URL}
			default:
				return nil
			}
		},
		func(name string) []string { return []string{"mcp", "remove", name} },
		prober))
	defer mux.Close()

	b := bridge.New(store, mgr, mux, bus, cfg)

	srv := &http.Server{Addr: cfg.Addr, Handler: b.Router(), ReadHeaderTimeout: 5 * time.Second}
	log.Printf("deskrtd listening on %s (db: %s)", cfg.Addr, cfg.Storage.Path)
	return srv.ListenAndServe()
}
