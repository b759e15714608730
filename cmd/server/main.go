package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alexander0x1307376/ultra-chateg/internal/adapters/auth"
	"github.com/Alexander0x1307376/ultra-chateg/internal/adapters/directory"
	router "github.com/Alexander0x1307376/ultra-chateg/internal/adapters/http"
	sig "github.com/Alexander0x1307376/ultra-chateg/internal/adapters/signal"
	"github.com/Alexander0x1307376/ultra-chateg/internal/app"
	"github.com/Alexander0x1307376/ultra-chateg/internal/app/orch"
	"github.com/Alexander0x1307376/ultra-chateg/internal/config"
	"github.com/Alexander0x1307376/ultra-chateg/internal/core"
	"github.com/Alexander0x1307376/ultra-chateg/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	bus := core.NewBus()
	presence := app.NewPresenceRegistry(bus)
	store := app.NewChannelStore(bus, presence)
	rooms := app.NewRoomHub(app.SimplePolicy{})

	o := orch.New(presence, rooms, bus)
	defer o.Stop()

	bridge := sig.NewBridge(presence, store, rooms, bus,
		sig.NewRoomRateLimiter(cfg.SubscribeLimit, cfg.SubscribeInterval))
	defer bridge.Stop()

	dir, closeDir, err := openDirectory(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open channel directory")
	}
	defer closeDir()

	if err := dir.Watch(ctx, directory.ListenerFuncs{
		Announced: store.CreateChannel,
		Withdrawn: store.RemoveChannel,
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to load channels")
	}
	if err := directory.Seed(ctx, dir, seeds(cfg)); err != nil {
		log.Error().Err(err).Msg("failed to seed channels")
	}

	ctl := sig.NewSignalWSController(bridge, o, sig.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait,
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
	})

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Signal:    ctl,
		Directory: dir,
		Store:     store,
		Verifier:  auth.NewJWTVerifier(cfg.JWTSecret),
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Int("channels", len(store.List())).Msg("rooms server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

func setupLogger(cfg *config.Config) {
	if cfg.Mode != "debug" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func openDirectory(ctx context.Context, cfg *config.Config) (directory.Directory, func(), error) {
	if cfg.Directory.Backend != "redis" {
		return directory.NewMemory(), func() {}, nil
	}
	r, err := directory.NewRedis(ctx, directory.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, nil, err
	}
	return r, func() { _ = r.Close() }, nil
}

func seeds(cfg *config.Config) []directory.SeedChannel {
	out := make([]directory.SeedChannel, 0, len(cfg.Directory.Seed))
	for _, s := range cfg.Directory.Seed {
		out = append(out, directory.SeedChannel{Name: s.Name, OwnerID: domain.UserID(s.OwnerID)})
	}
	return out
}
