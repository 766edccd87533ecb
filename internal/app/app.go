// Package app wires the server together: config from the environment, the
// record store, the action catalog, the logging router, and the hub with its
// queue loop and HTTP surface.
package app

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	server "netwar/server"
	"netwar/server/actions/catalog"
	servernet "netwar/server/internal/net"
	"netwar/server/internal/store"
	"netwar/server/internal/world"
	"netwar/server/logging"
	loggingSinks "netwar/server/logging/sinks"
)

// Config is read from the environment at startup.
type Config struct {
	ListenAddr   string        `env:"NETWAR_LISTEN_ADDR" envDefault:":8080"`
	DatabasePath string        `env:"NETWAR_DB_PATH" envDefault:"netwar.db"`
	CatalogPath  string        `env:"NETWAR_CATALOG_PATH"`
	TickInterval time.Duration `env:"NETWAR_TICK_INTERVAL" envDefault:"1s"`
	LogSinks     []string      `env:"NETWAR_LOG_SINKS" envDefault:"console"`
	LogFile      string        `env:"NETWAR_LOG_FILE" envDefault:"netwar-events.ndjson"`
	AutoStart    bool          `env:"NETWAR_AUTO_START" envDefault:"true"`
	RandomSeed   int64         `env:"NETWAR_RANDOM_SEED"`
}

// Run starts the server and blocks until ctx is cancelled or the listener
// fails.
func Run(ctx context.Context) error {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	fallback := log.Default()

	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	paths := catalog.DefaultPaths()
	if cfg.CatalogPath != "" {
		paths = []string{cfg.CatalogPath}
	}
	cat, err := catalog.Load(paths...)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	if err := st.SeedCatalog(cat.Definitions()); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}

	router, err := buildRouter(cfg, fallback)
	if err != nil {
		return fmt.Errorf("construct logging router: %w", err)
	}
	defer func() {
		if cerr := router.Close(context.Background()); cerr != nil {
			fallback.Printf("failed to close logging router: %v", cerr)
		}
	}()

	state, match, err := loadWorld(st)
	if err != nil {
		return fmt.Errorf("load world: %w", err)
	}

	var rng *rand.Rand
	if cfg.RandomSeed != 0 {
		rng = rand.New(rand.NewSource(cfg.RandomSeed))
	}
	hub := server.NewHub(state, match, st, cat, router, cfg.TickInterval, rng)
	if err := hub.Rehydrate(ctx); err != nil {
		return err
	}
	if cfg.AutoStart && match.Phase() == world.PhaseNotStarted {
		hub.StartMatch(ctx)
	}

	stop := make(chan struct{})
	go hub.Run(stop)
	defer close(stop)

	handler := servernet.NewHTTPHandler(hub, servernet.HTTPHandlerConfig{
		Logger: fallback,
		Router: router,
	})
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: handler}
	fallback.Printf("server listening on %s", srv.Addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	}
}

func buildRouter(cfg Config, fallback *log.Logger) (*logging.Router, error) {
	logConfig := logging.DefaultConfig()
	logConfig.EnabledSinks = cfg.LogSinks

	var sinks []logging.NamedSink
	for _, name := range cfg.LogSinks {
		switch name {
		case "console":
			sinks = append(sinks, logging.NamedSink{Name: "console", Sink: loggingSinks.NewConsole(os.Stdout)})
		case "json":
			file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open log file: %w", err)
			}
			sinks = append(sinks, logging.NamedSink{Name: "json", Sink: loggingSinks.NewJSON(file, logConfig.JSON.FlushInterval)})
		default:
			fallback.Printf("unknown log sink %q ignored", name)
		}
	}
	return logging.NewRouter(logConfig, logging.SystemClock{}, fallback, sinks)
}

// loadWorld rebuilds the battlefield and the match state machine from the
// record store, seeding the default battlefield on first boot.
func loadWorld(st *store.Store) (*world.State, *world.Match, error) {
	record, err := st.Game()
	if err != nil {
		return nil, nil, err
	}
	if !record.Initialized {
		if err := seedDefaultWorld(st); err != nil {
			return nil, nil, fmt.Errorf("seed default world: %w", err)
		}
		record, err = st.Game()
		if err != nil {
			return nil, nil, err
		}
	}

	teams, err := st.ListTeams()
	if err != nil {
		return nil, nil, err
	}
	nodes, err := st.ListNodes(store.NodeFilter{})
	if err != nil {
		return nil, nil, err
	}
	edges, err := st.ListEdges("")
	if err != nil {
		return nil, nil, err
	}
	players, err := st.ListPlayers()
	if err != nil {
		return nil, nil, err
	}

	state, err := world.NewState(teams, nodes, edges, players)
	if err != nil {
		return nil, nil, err
	}
	match := world.RestoreMatch(world.Phase(record.Phase), record.Winner, record.EndTime)
	return state, match, nil
}
