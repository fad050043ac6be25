package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/gemcarry/auth"
	"github.com/cyberinferno/gemcarry/cacher"
	"github.com/cyberinferno/gemcarry/codec"
	"github.com/cyberinferno/gemcarry/config"
	"github.com/cyberinferno/gemcarry/framing"
	"github.com/cyberinferno/gemcarry/gamesession"
	"github.com/cyberinferno/gemcarry/iopool"
	"github.com/cyberinferno/gemcarry/logger"
	"github.com/cyberinferno/gemcarry/mail"
	"github.com/cyberinferno/gemcarry/metrics"
	"github.com/cyberinferno/gemcarry/router"
	"github.com/cyberinferno/gemcarry/slab"
	"github.com/cyberinferno/gemcarry/tcpserver"
)

const (
	serviceName      = "gemcarryd"
	cacheNamespace   = "gemcarry:cache:login"
	shutdownTimeout  = 5 * time.Second
	redisPingTimeout = 3 * time.Second
)

// app holds every long-lived component of the server process.
type app struct {
	cfg      *config.Config
	log      logger.Logger
	registry *prometheus.Registry
	codec    *codec.Codec
	sessions *gamesession.Registry
	accounts *auth.Manager
	server   *tcpserver.Server
	admin    *http.Server
	redis    redis.UniversalClient
}

// newLogger builds the process logger from the log settings.
func newLogger(cfg *config.Config) (logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	switch {
	case cfg.LogDir != "":
		return logger.NewZerologFileLogger(serviceName, cfg.LogDir, level)
	case cfg.LogConsole:
		return logger.NewConsoleLogger(serviceName, level), nil
	default:
		return logger.NewZerologLogger(zerolog.New(os.Stdout).With().Timestamp().Logger(), serviceName, level), nil
	}
}

// newApp constructs the component graph. Nothing listens until run.
func newApp(ctx context.Context, cfg *config.Config, log logger.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(a.registry)

	sl, err := slab.New(cfg.SlabBytes(), cfg.SlabUnitSize())
	if err != nil {
		return nil, fmt.Errorf("failed to allocate receive slab: %w", err)
	}

	pool, err := iopool.New(cfg.MaxConnections, sl)
	if err != nil {
		return nil, fmt.Errorf("failed to build io context pool: %w", err)
	}

	framer, err := framing.New(cfg.Framing, cfg.SlabUnitSize())
	if err != nil {
		return nil, err
	}

	if a.codec, err = codec.New(framer, cfg.CompressionLevel); err != nil {
		return nil, err
	}

	if a.accounts, err = a.newAccounts(ctx); err != nil {
		a.close()
		return nil, err
	}

	a.sessions = gamesession.NewRegistry(cfg.MaxSessionPlayers, log, m)
	r := router.NewGameRouter(a.codec, router.Deps{
		Auth:     a.accounts,
		Sessions: a.sessions,
		Log:      log,
		Metrics:  m,
	})

	a.server = tcpserver.New(tcpserver.Options{
		Name:         "game",
		Addr:         cfg.ListenAddr,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}, pool, r, log, m)

	if cfg.AdminAddr != "" {
		a.admin = &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           metrics.NewAdminRouter(a.registry, adminState{server: a.server, sessions: a.sessions}),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return a, nil
}

// newAccounts wires the account store, record cache and verification mail.
func (a *app) newAccounts(ctx context.Context) (*auth.Manager, error) {
	cfg := a.cfg

	hasher, err := auth.NewHasher(cfg.HashAlgorithm, cfg.HashRounds)
	if err != nil {
		return nil, err
	}

	if cfg.UsesRedis() {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}
	}

	var store auth.Store = auth.NewMemoryStore()
	if cfg.Store == config.BackendRedis {
		store = auth.NewRedisStore(a.redis, auth.DefaultRedisPrefix)
	}

	var cache cacher.Cacher[auth.Record] = cacher.NewMemoryCacher[auth.Record](cfg.CacheTTL)
	if cfg.Cache == config.BackendRedis {
		cache = cacher.NewRedisCacher[auth.Record](a.redis, cacheNamespace, cfg.CacheTTL)
	}

	var sender mail.Sender = mail.NewLogSender(a.log, cfg.VerificationURL)
	if cfg.Mail == config.MailSES {
		if sender, err = mail.NewSESSenderFromEnv(ctx, cfg.AWSRegion, cfg.MailFrom, cfg.VerificationURL); err != nil {
			return nil, err
		}
	}

	a.log.Info("account service ready",
		logger.Field{Key: "store", Value: cfg.Store},
		logger.Field{Key: "cache", Value: cfg.Cache},
		logger.Field{Key: "mail", Value: cfg.Mail},
	)

	return auth.NewManager(store, hasher, a.log,
		auth.WithCache(cache),
		auth.WithMailer(sender),
		auth.WithTimeout(cfg.AuthTimeout),
	), nil
}

// serve starts the game listener and the admin server and blocks until ctx
// is cancelled, then stops both.
func (a *app) serve(ctx context.Context) error {
	if err := a.server.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.admin != nil {
		g.Go(func() error {
			a.log.Info("admin server started", logger.Field{Key: "addr", Value: a.admin.Addr})
			if err := a.admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.server.Stop()

		if a.admin == nil {
			return nil
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.admin.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("failed to close redis client", logger.Err(err))
		}
	}
}

// run is the body of the root command.
func run(ctx context.Context, cfg *config.Config, console bool) error {
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", logger.Err(err))
		return err
	}
	defer a.close()

	go handleSignals(ctx, cancel, log)
	if console {
		go runConsole(ctx, cancel, a)
	}

	return a.serve(ctx)
}

// handleSignals cancels the run on SIGINT or SIGTERM and reopens the log
// file on SIGHUP.
func handleSignals(ctx context.Context, cancel context.CancelFunc, log logger.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				if err := logger.Rotate(log); err != nil {
					log.Warn("log rotation failed", logger.Err(err))
				}
				continue
			}

			log.Info("shutting down", logger.Field{Key: "signal", Value: sig.String()})
			cancel()
			return
		}
	}
}

// adminState exposes the live server state to the admin router.
type adminState struct {
	server   *tcpserver.Server
	sessions *gamesession.Registry
}

func (s adminState) Health() metrics.Health {
	st := s.server.Stats()
	status := "ok"
	if !s.server.Running() {
		status = "stopped"
	}

	return metrics.Health{
		Status:    status,
		Uptime:    st.Uptime.Round(time.Second).String(),
		Connected: st.Connected,
		PoolFree:  st.PoolFree,
		PoolInUse: st.PoolInUse,
		PoolSize:  st.PoolCapacity,
		Sessions:  s.sessions.Len(),
	}
}

func (s adminState) Sessions() any {
	return s.sessions.Snapshot()
}
