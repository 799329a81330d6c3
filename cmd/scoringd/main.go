package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"

	api "github.com/mind-engage/rehabscore/internal/api/http"
	auth "github.com/mind-engage/rehabscore/internal/auth/middleware"
	"github.com/mind-engage/rehabscore/internal/cache"
	"github.com/mind-engage/rehabscore/internal/config"
	"github.com/mind-engage/rehabscore/internal/db"
	"github.com/mind-engage/rehabscore/internal/logger"
	"github.com/mind-engage/rehabscore/internal/scoring"
	"github.com/mind-engage/rehabscore/internal/service"
	"github.com/mind-engage/rehabscore/internal/store"
)

func main() {
	cfg := config.FromEnv()

	log, err := logger.New(cfg.LogMode, cfg.LogSalt)
	if err != nil {
		os.Stderr.WriteString("logger init failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("scoringd stopped", "err", err)
	}
}

func run(ctx context.Context, cfg config.Config, log *logger.Logger) error {
	// --- DB ---
	driver, err := db.ParseDriver(cfg.DBDriver)
	if err != nil {
		return err
	}
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	dbh, err := db.Open(openCtx, driver, cfg.DBDSN)
	cancel()
	if err != nil {
		return err
	}
	defer dbh.Close()
	st := store.NewSQLStore(dbh, log)

	// --- Service ---
	opts := []service.Option{
		service.WithLogger(log),
		service.WithTrialDefault(cfg.TrialDefaultName, cfg.TrialActive),
		service.WithSafetyChecker(scoring.NewSafetyChecker(cfg.BFRTargetAOP, cfg.BFRToleranceAOP)),
		service.WithAggregator(scoring.NewAggregator(scoring.WithBFRGate(cfg.BFRGate))),
	}
	if cfg.RedisAddr != "" {
		kv, err := cache.NewRedisKV(ctx, cfg.RedisAddr)
		if err != nil {
			log.Warn("redis unavailable, stamp cache disabled", "addr", cfg.RedisAddr, "err", err)
		} else {
			defer kv.Close()
			opts = append(opts, service.WithResolveStore(
				cache.NewStampCache(st, kv, cache.WithTTL(cfg.StampCacheTTL), cache.WithLogger(log))))
			log.Info("stamp cache enabled", "addr", cfg.RedisAddr)
		}
	}
	svc := service.New(st, opts...)

	proto, err := loadProtocol(cfg, log)
	if err != nil {
		return err
	}
	if _, _, err := svc.SeedTrialDefault(ctx, proto); err != nil {
		return err
	}

	// --- Auth ---
	authSvc := auth.NewAuthService(cfg.AuthHMACSecret, cfg.TokenTTL)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.EnableLocalAuth {
		r.Post("/auth/login", auth.LoginHandler(authSvc, auth.LoginConfig{
			AdminUser:     cfg.AdminUser,
			AdminPassHash: cfg.AdminPassHash,
			DevUsers:      cfg.Mode == config.ModeOffline,
		}))
	}
	api.Mount(r, svc, authSvc, log)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		pctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := dbh.PingContext(pctx); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(200)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("scoringd listening", "addr", cfg.HTTPAddr, "mode", string(cfg.Mode), "db", string(driver),
			"trial_default", cfg.TrialDefaultName, "trial_active", cfg.TrialActive)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		log.Info("scoringd shutting down")
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// loadProtocol reads the seed configuration. The configured trial default
// name always wins over the name in the file so the global tier finds it.
func loadProtocol(cfg config.Config, log *logger.Logger) (scoring.Configuration, error) {
	proto := scoring.DefaultConfiguration()
	if cfg.ProtocolFile != "" {
		p, err := scoring.LoadProtocol(cfg.ProtocolFile)
		if err != nil {
			return scoring.Configuration{}, err
		}
		proto = p
		log.Info("protocol loaded", "path", cfg.ProtocolFile)
	}
	if proto.Name != cfg.TrialDefaultName {
		log.Warn("protocol name overridden by TRIAL_DEFAULT_NAME", "protocol", proto.Name, "name", cfg.TrialDefaultName)
		proto.Name = cfg.TrialDefaultName
	}
	return proto, nil
}
