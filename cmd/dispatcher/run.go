// cmd/dispatcher/run.go
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/fixit-services/dispatch/internal/app/broadcast"
	"github.com/fixit-services/dispatch/internal/app/classifier"
	"github.com/fixit-services/dispatch/internal/app/geomatch"
	"github.com/fixit-services/dispatch/internal/app/monitor"
	"github.com/fixit-services/dispatch/internal/app/opsapi"
	"github.com/fixit-services/dispatch/internal/ports"
	"github.com/fixit-services/dispatch/internal/shared/config"
	"github.com/fixit-services/dispatch/internal/shared/logger"
	"github.com/fixit-services/dispatch/internal/shared/rabbitmq"
	"github.com/fixit-services/dispatch/internal/shared/redisbus"
	"github.com/fixit-services/dispatch/internal/shared/store"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// NewEngine builds the broadcast engine from configuration. The category
// table is read from Dispatch.CategoryTablePath when set.
func NewEngine(
	cfg *config.Config,
	st *store.Store,
	emitter ports.Emitter,
	ledger ports.OfferLedger,
	mon *monitor.Monitor,
	log *logger.Logger,
) (*broadcast.Engine, error) {
	table := classifier.DefaultTable()
	if path := cfg.Dispatch.CategoryTablePath; path != "" {
		t, err := classifier.LoadTable(path)
		if err != nil {
			return nil, fmt.Errorf("category table: %w", err)
		}
		table = t
	}

	return broadcast.NewEngine(
		geomatch.NewMatcher(st.UnitOfWork, st.Workers),
		classifier.New(table),
		emitter,
		ledger,
		mon,
		log,
		broadcast.Options{
			RadiiKm:     cfg.Dispatch.RadiiKm,
			TopN:        cfg.Dispatch.TopN,
			Concurrency: cfg.Dispatch.FanoutConcurrency,
		},
	), nil
}

// Run consumes job.created messages and broadcasts offers through the Redis
// bus until ctx is cancelled. Health and metrics are served on
// HTTP.MetricsPort.
func Run(ctx context.Context, cfg *config.Config) (err error) {
	log := logger.NewLogger("dispatcher")
	defer log.Sync()
	if err := log.SetLevel(cfg.LogLevel); err != nil {
		return err
	}

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

	mon := monitor.New()
	bus := redisbus.NewBus(rdb, cfg.Redis.Channel, log)
	ledger := redisbus.NewOfferLedger(rdb, time.Duration(cfg.Redis.OfferTTLMs)*time.Millisecond)

	engine, err := NewEngine(cfg, st, bus, ledger, mon, log)
	if err != nil {
		log.Error(ctx, "engine_init_failed", "Failed to build broadcast engine", err)
		return err
	}
	consumer := broadcast.NewConsumer(mq, engine, mon, log, cfg.RabbitMQ.Prefetch)

	h := opsapi.NewHandler(log, mon, opsapi.Deps{Checks: map[string]opsapi.HealthCheck{
		"store":    st.Ping,
		"redis":    func(ctx context.Context) error { return redisbus.Ping(ctx, rdb) },
		"rabbitmq": func(context.Context) error { return mq.Ping(2 * time.Second) },
	}})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.MetricsPort),
		Handler:           opsapi.NewRouter(h, nil),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := mon.StartStatusLog(gctx, cfg.Dispatch.MetricsLogSchedule, log); err != nil {
		return err
	}

	g.Go(func() error {
		consumer.ConsumeForever(gctx)
		return nil
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSecs)*time.Second)
		defer cancel()
		return srv.Shutdown(shCtx)
	})

	log.Info(ctx, "service_started", fmt.Sprintf("Dispatcher started, metrics on port %d", cfg.HTTP.MetricsPort), map[string]any{
		"radii_km": cfg.Dispatch.RadiiKm,
		"top_n":    cfg.Dispatch.TopN,
		"prefetch": cfg.RabbitMQ.Prefetch,
		"bus":      bus.Origin(),
	})

	if err := g.Wait(); err != nil {
		log.Error(ctx, "service_failed", "Dispatcher stopped with error", err)
		return err
	}
	log.Info(ctx, "service_stopped", "Dispatcher stopped", nil)
	return nil
}
