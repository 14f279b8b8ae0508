// Package app composes the chat subsystem with fx.
package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/ffusco/chatline/internal/badge"
	"github.com/ffusco/chatline/internal/bus"
	"github.com/ffusco/chatline/internal/chat"
	"github.com/ffusco/chatline/internal/config"
	"github.com/ffusco/chatline/internal/logging"
	"github.com/ffusco/chatline/internal/preview"
	"github.com/ffusco/chatline/internal/reconcile"
	"github.com/ffusco/chatline/internal/rest"
	"github.com/ffusco/chatline/internal/store"
	"github.com/ffusco/chatline/internal/transport"
	"github.com/ffusco/chatline/internal/unread"
)

// Params holds the resolved configuration passed to the fx module.
type Params struct {
	Config *config.Config
}

// Module returns the fx module for the chat client, composing all
// providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("chatline",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStore,
			provideRESTClient,
			provideConn,
			provideCounter,
			provideBadgeHook,
			providePreviewBuilder,
			provideChatService,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(p.Config.LogPath, p.Config.UserID)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	if p.Config.MirrorPath == "" {
		logger.Info("local mirror disabled")
		return nil, nil
	}
	db, err := store.Open(p.Config.MirrorPath)
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
	logger.Info("mirror initialized", zap.String("path", p.Config.MirrorPath))
	return db, nil
}

func provideRESTClient(p Params) *rest.Client {
	return rest.NewClient(p.Config.APIBaseURL, p.Config.Token)
}

func provideConn(p Params, logger *zap.Logger) *transport.WSConn {
	return transport.NewWSConn(transport.WSConfig{
		URL:   p.Config.WSURL,
		Token: p.Config.Token,
	}, logger)
}

func provideCounter(client *rest.Client, b *bus.Bus, p Params, logger *zap.Logger) *unread.Counter {
	return unread.NewCounter(client, b, p.Config.UserID, logger)
}

func provideBadgeHook(conn *transport.WSConn, counter *unread.Counter, b *bus.Bus, logger *zap.Logger) *badge.Hook {
	return badge.NewHook(conn, counter, b, logger)
}

func providePreviewBuilder(client *rest.Client, counter *unread.Counter, logger *zap.Logger) *preview.Builder {
	return preview.NewBuilder(client, counter, logger)
}

func provideChatService(conn *transport.WSConn, client *rest.Client, db *store.DB, b *bus.Bus, p Params, logger *zap.Logger) *chat.Service {
	return chat.NewService(conn, client, mirrorOf(db), b, logger, p.Config.UserID)
}

// mirrorOf keeps a disabled mirror as a true nil interface so callers
// can test for it.
func mirrorOf(db *store.DB) reconcile.Mirror {
	if db == nil {
		return nil
	}
	return db
}

func registerLifecycle(lc fx.Lifecycle, conn *transport.WSConn, hook *badge.Hook, counter *unread.Counter, svc *chat.Service, db *store.DB, p Params, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := conn.Connect(context.Background()); err != nil {
					logger.Error("websocket connect failed", zap.Error(err))
				}
			}()

			hook.Start(context.Background())
			hook.SetUser(context.Background(), p.Config.UserID)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			svc.CloseAll()
			hook.Stop()
			counter.Close()
			if err := conn.Close(); err != nil {
				logger.Warn("error closing websocket", zap.Error(err))
			}
			if db != nil {
				if err := db.Close(); err != nil {
					logger.Warn("error closing mirror", zap.Error(err))
				}
			}
			logger.Info("chat client stopped")
			return nil
		},
	})
}
