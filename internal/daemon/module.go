// Package daemon composes the long-running session process: one broker
// connection, the ingest pipeline, the local cache, and a control
// endpoint on a unix domain socket.
package daemon

import (
	"context"
	"errors"

	"github.com/andrelcm/pigeon/internal/bus"
	"github.com/andrelcm/pigeon/internal/client"
	"github.com/andrelcm/pigeon/internal/config"
	"github.com/andrelcm/pigeon/internal/conn"
	"github.com/andrelcm/pigeon/internal/dispatch"
	"github.com/andrelcm/pigeon/internal/ingest"
	"github.com/andrelcm/pigeon/internal/lock"
	"github.com/andrelcm/pigeon/internal/logging"
	"github.com/andrelcm/pigeon/internal/outbox"
	"github.com/andrelcm/pigeon/internal/registry"
	"github.com/andrelcm/pigeon/internal/rest"
	"github.com/andrelcm/pigeon/internal/session"
	"github.com/andrelcm/pigeon/internal/stomp"
	"github.com/andrelcm/pigeon/internal/store"
	"github.com/andrelcm/pigeon/internal/wire"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideConfig,
			provideLock,
			provideStore,
			provideRESTClient,
			provideDialer,
			provideManager,
			provideRegistry,
			provideDispatcher,
			provideSender,
			provideIngestEngine,
			provideClient,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideConfig() *config.Config {
	return config.LoadOrDefault(session.ConfigPath())
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.CacheDBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRESTClient(cfg *config.Config, logger *zap.Logger) *rest.Client {
	return rest.NewClient(cfg.APIURL, rest.WithLogger(logger))
}

func provideDialer(cfg *config.Config, logger *zap.Logger) conn.Dialer {
	return conn.DialerFunc(func(ctx context.Context, credential string) (conn.Transport, error) {
		c, err := stomp.Dial(ctx, cfg.WSURL, credential, logger)
		if err != nil {
			if errors.Is(err, stomp.ErrAuthRejected) {
				return nil, errors.Join(conn.ErrAuthFailed, err)
			}
			return nil, err
		}
		return c, nil
	})
}

func provideManager(d conn.Dialer, b *bus.Bus, logger *zap.Logger) *conn.Manager {
	return conn.NewManager(d, b, logger)
}

func provideRegistry(m *conn.Manager, logger *zap.Logger) *registry.Registry {
	return registry.New(m, logger)
}

func provideDispatcher(m *conn.Manager, b *bus.Bus, logger *zap.Logger) *dispatch.Dispatcher {
	return dispatch.New(m.Frames(), b, logger)
}

func provideSender(m *conn.Manager, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.New(m, b, logger)
}

func provideIngestEngine(db *store.DB, api *rest.Client, b *bus.Bus, logger *zap.Logger) *ingest.Engine {
	return ingest.NewEngine(db, api, b, logger)
}

func provideClient(m *conn.Manager, r *registry.Registry, s *outbox.Sender, api *rest.Client, db *store.DB, b *bus.Bus, logger *zap.Logger) *client.Client {
	return client.New(client.Params{
		Manager:  m,
		Registry: r,
		Sender:   s,
		API:      api,
		DB:       db,
		Bus:      b,
		Logger:   logger,
	})
}

func registerLifecycle(
	lc fx.Lifecycle,
	p Params,
	srv *Server,
	lk *lock.Lock,
	mgr *conn.Manager,
	disp *dispatch.Dispatcher,
	engine *ingest.Engine,
	cl *client.Client,
	reg *registry.Registry,
	db *store.DB,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start the ingest engine (subscribes to bus events).
			engine.Start(context.Background())

			// Route inbound frames to the bus.
			go disp.Run()

			// Start the control server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("control server error", zap.Error(err))
				}
			}()

			// Attach with saved credentials when present.
			creds, err := config.LoadCredentials(session.CredentialsPath(p.SessionName))
			if err != nil {
				if !errors.Is(err, config.ErrNoCredentials) {
					logger.Warn("credentials unreadable", zap.Error(err))
				}
				logger.Info("no credentials found, login required")
				return nil
			}
			go func() {
				if err := cl.Attach(context.Background(), creds.Username, creds.Token); err != nil {
					logger.Error("auto-attach failed", zap.Error(err))
					return
				}
				if err := engine.Backfill(context.Background(), creds.Username); err != nil {
					logger.Warn("history backfill failed", zap.Error(err))
				}
				subscribeKnownRooms(reg, db, logger)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			mgr.Disconnect()
			disp.Stop()
			engine.Stop()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// subscribeKnownRooms keeps every cached room's topic subscribed so
// live messages land in the cache even while no client has the room
// open.
func subscribeKnownRooms(reg *registry.Registry, db *store.DB, logger *zap.Logger) {
	rooms, err := db.ListRooms()
	if err != nil {
		logger.Warn("cannot list rooms for subscription", zap.Error(err))
		return
	}
	for i := range rooms {
		dest := wire.TopicMessages(rooms[i].ID)
		if err := reg.Subscribe(context.Background(), dest); err != nil {
			logger.Warn("room subscription failed",
				zap.String("room_id", rooms[i].ID), zap.Error(err))
		}
	}
	logger.Info("room topics subscribed", zap.Int("count", len(rooms)))
}
