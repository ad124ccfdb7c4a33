package main // Entry point package

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/anushagandi23-hash/bus-seat-reservation/internal/booking"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/clock"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/config"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/database"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/handler"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/lock"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/middleware"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/queue"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/repository"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/repository/memstore"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/router"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load() // .env is optional

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	policy, err := config.LoadPolicy()
	if err != nil {
		return err
	}

	logger := log.With(log.NewStdLogger(os.Stdout),
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service", "bus-seat-reservation",
	)
	logger = log.NewFilter(logger, log.FilterLevel(log.ParseLevel(cfg.LogLevel)))
	helper := log.NewHelper(log.With(logger, "module", "main"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, trips, db, err := openStore(ctx, cfg, helper)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	rdb := config.NewRedisClient()
	var locker booking.Locker
	if rdb != nil {
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb, "lock")
	} else {
		helper.Warn("redis unavailable: rate limiting, seat cache and sweep lease disabled")
	}

	var events booking.EventPublisher = queue.Discard{}
	if cfg.AMQPURL != "" {
		pub := queue.NewPublisher(cfg.AMQPURL, logger)
		defer pub.Close()
		events = pub
	}

	clk := clock.Real()
	engine := booking.NewEngine(store, trips, clk, policy, logger)
	manager := booking.NewManager(engine, events, logger)
	sweeper := booking.NewSweeper(store, clk, policy, events, locker, logger)

	cache := middleware.NewSeatCache(config.LoadCacheConfig(), rdb)
	sweeper.SetCache(cache)
	limiter := middleware.NewBookingLimiter(config.LoadRateLimitConfig(), rdb)

	e := echo.New()
	e.HideBanner = true
	var pinger handler.Pinger
	if db != nil {
		pinger = db
	}
	bookings := handler.NewBookingHandler(manager, trips, cache)
	router.RegisterRoutes(e, pinger)
	router.RegisterPublic(e, bookings, cache)
	router.RegisterCustomer(e, bookings, cfg.JWTSecret, limiter)
	router.RegisterAdmin(e, handler.NewAdminHandler(trips, store, sweeper, cache), cfg.JWTSecret)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		helper.Infof("listening on %s (env=%s, store=%s)", addr, cfg.Env, cfg.StoreDriver)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return sweeper.Run(gctx) })
	if cfg.ConsumerEnabled && cfg.AMQPURL != "" {
		consumer := queue.NewConsumer(cfg.AMQPURL, cfg.BookingLogDir, logger)
		g.Go(func() error { return consumer.Run(gctx) })
	}

	err = g.Wait()
	helper.Info("server stopped")
	return err
}

// openStore returns the booking store and trip catalog for the configured
// driver.  db is nil for the in-memory driver.
func openStore(ctx context.Context, cfg config.Config, helper *log.Helper) (repository.Store, repository.TripCatalog, *sql.DB, error) {
	if cfg.StoreDriver == config.DriverMemory {
		helper.Warn("using the in-memory store; bookings are lost on restart")
		s := memstore.New()
		return s, s, nil, nil
	}
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.DBMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return repository.NewSQLStore(db), repository.NewTripRepo(db), db, nil
}
