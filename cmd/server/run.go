// cmd/server/run.go
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/fixit-services/dispatch/cmd/dispatcher"
	"github.com/fixit-services/dispatch/internal/app/broadcast"
	"github.com/fixit-services/dispatch/internal/app/gateway"
	"github.com/fixit-services/dispatch/internal/app/geomatch"
	"github.com/fixit-services/dispatch/internal/app/lifecycle"
	"github.com/fixit-services/dispatch/internal/app/monitor"
	"github.com/fixit-services/dispatch/internal/app/opsapi"
	"github.com/fixit-services/dispatch/internal/app/tracking"
	"github.com/fixit-services/dispatch/internal/ports"
	"github.com/fixit-services/dispatch/internal/shared/config"
	"github.com/fixit-services/dispatch/internal/shared/logger"
	"github.com/fixit-services/dispatch/internal/shared/rabbitmq"
	"github.com/fixit-services/dispatch/internal/shared/redisbus"
	"github.com/fixit-services/dispatch/internal/shared/store"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Options are the command-line switches of the server mode.
type Options struct {
	// EmbedDispatcher runs the job.created consumer inside this process.
	EmbedDispatcher bool
}

// Run wires the websocket gateway, the job lifecycle coordinator and the
// operator API, and blocks until ctx is cancelled. It returns the first
// terminal error.
func Run(ctx context.Context, cfg *config.Config, opts Options) (err error) {
	log := logger.NewLogger("dispatch-server")
	defer log.Sync()
	if err := log.SetLevel(cfg.LogLevel); err != nil {
		return err
	}

	// ---- Backing services -----------------------------------------------------
	st, err := store.Open(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "db_connection_failed", "Failed to open store", err)
		return err
	}
	defer func() { err = multierr.Append(err, st.Close()) }()

	rdb, err := redisbus.Connect(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, rdb.Close()) }()

	mq, err := rabbitmq.ConnectRabbitMQ(ctx, cfg.RabbitMQ, log)
	if err != nil {
		log.Error(ctx, "rabbitmq_connection_failed", "Failed to connect to RabbitMQ", err)
		return err
	}
	defer mq.Close()

	// ---- Application ----------------------------------------------------------
	mon := monitor.New()
	bus := redisbus.NewBus(rdb, cfg.Redis.Channel, log)
	ledger := redisbus.NewOfferLedger(rdb, time.Duration(cfg.Redis.OfferTTLMs)*time.Millisecond)

	hub := gateway.NewHub()
	emitter := gateway.NewEmitter(hub, bus)
	coord := lifecycle.NewCoordinator(st.UnitOfWork, st.Jobs, st.Workers, tracking.NewRegistry(), emitter, ledger, log)

	gw := gateway.New(hub, coord, log, gateway.Options{
		SendBuffer:        cfg.Gateway.SendBuffer,
		MessagesPerSecond: cfg.Gateway.MessagesPerSecond,
		Burst:             cfg.Gateway.Burst,
		AllowedOrigins:    cfg.Gateway.AllowedOrigins,
	})
	gw.OnDisconnect(func(ctx context.Context, connID string) {
		coord.Disconnect(ctx, connID)
	})

	h := opsapi.NewHandler(log, mon, opsapi.Deps{
		Operations: coord,
		UnitOfWork: st.UnitOfWork,
		Jobs:       st.Jobs,
		Publisher:  rabbitmq.NewJobPublisher(mq),
		Matcher:    geomatch.NewMatcher(st.UnitOfWork, st.Workers),
		Checks: map[string]opsapi.HealthCheck{
			"store":    st.Ping,
			"redis":    func(ctx context.Context) error { return redisbus.Ping(ctx, rdb) },
			"rabbitmq": func(context.Context) error { return mq.Ping(2 * time.Second) },
		},
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           opsapi.NewRouter(h, gw),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	// ---- Serve + graceful shutdown --------------------------------------------
	// Everything that can fail is built before the first goroutine starts.
	g, gctx := errgroup.WithContext(ctx)

	var consumer *broadcast.Consumer
	if opts.EmbedDispatcher {
		consumer, err = embeddedDispatcher(gctx, cfg, st, emitter, ledger, mon, mq, log)
		if err != nil {
			log.Error(ctx, "engine_init_failed", "Failed to start embedded dispatcher", err)
			return err
		}
	}

	g.Go(func() error {
		bus.Subscribe(gctx, emitter.Relay)
		return nil
	})
	if consumer != nil {
		g.Go(func() error {
			consumer.ConsumeForever(gctx)
			return nil
		})
	}
	g.Go(func() error {
		// http.ErrServerClosed is returned on Shutdown; treat that as clean exit.
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSecs)*time.Second)
		defer cancel()
		// Hijacked websocket connections are not tracked by Shutdown.
		gw.Close()
		return srv.Shutdown(shCtx)
	})

	log.Info(ctx, "service_started", fmt.Sprintf("Dispatch server started on port %d", cfg.HTTP.Port), map[string]any{
		"port":             cfg.HTTP.Port,
		"store":            st.Driver,
		"embed_dispatcher": opts.EmbedDispatcher,
		"bus":              bus.Origin(),
	})

	if err := g.Wait(); err != nil {
		log.Error(ctx, "service_failed", "Dispatch server stopped with error", err)
		return err
	}
	log.Info(ctx, "service_stopped", "Dispatch server stopped", map[string]any{
		"active_sessions": len(coord.ActiveSessions()),
	})
	return nil
}

// embeddedDispatcher builds the job.created consumer and starts the periodic
// status log. Nothing is left running when it returns an error.
func embeddedDispatcher(
	ctx context.Context,
	cfg *config.Config,
	st *store.Store,
	emitter ports.Emitter,
	ledger ports.OfferLedger,
	mon *monitor.Monitor,
	source broadcast.ChannelSource,
	log *logger.Logger,
) (*broadcast.Consumer, error) {
	engine, err := dispatcher.NewEngine(cfg, st, emitter, ledger, mon, log)
	if err != nil {
		return nil, err
	}
	if err := mon.StartStatusLog(ctx, cfg.Dispatch.MetricsLogSchedule, log); err != nil {
		return nil, err
	}
	return broadcast.NewConsumer(source, engine, mon, log, cfg.RabbitMQ.Prefetch), nil
}
