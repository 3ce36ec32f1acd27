// FlowRun engine server — serves the learn HTTP surface, drives lesson runs
// through the LLM, and streams visual-aligned TTS audio.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/markdownflow/flowrun/pkg/api"
	"github.com/markdownflow/flowrun/pkg/config"
	"github.com/markdownflow/flowrun/pkg/database"
	"github.com/markdownflow/flowrun/pkg/llm"
	"github.com/markdownflow/flowrun/pkg/oss"
	"github.com/markdownflow/flowrun/pkg/runner"
	"github.com/markdownflow/flowrun/pkg/services"
	"github.com/markdownflow/flowrun/pkg/tts"
)

func main() {
	envFile := flag.String("env-file", ".env", "Path to the environment file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load env file, continuing with existing environment",
			"path", *envFile, "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})))

	slog.Info("Starting FlowRun",
		"http_port", cfg.HTTPPort,
		"path_prefix", cfg.PathPrefix)

	ctx := context.Background()

	// 1. Database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 2. Redis — run locks, learner profiles and the config cache live here.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("Failed to connect to Redis", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			slog.Error("Error closing Redis client", "error", err)
		}
	}()
	slog.Info("Connected to Redis", "addr", cfg.RedisAddr)

	// 3. Dynamic config store. Secrets ops keeps in the database rather than
	// the environment are resolved through it at startup.
	configStore := config.NewStore(dbClient.DB(), rdb, cfg.RedisPrefix, cfg.SecretKey)
	resolveSecrets(ctx, configStore, cfg)

	// 4. Services
	db := dbClient.DB()
	shifuService := services.NewShifuService(db)
	outlineService := services.NewOutlineService(db)
	progressService := services.NewProgressService(db)
	generatedService := services.NewGeneratedService(db)
	audioService := services.NewAudioService(db)
	usageService := services.NewUsageService(db)
	userService := services.NewUserService(db)
	slog.Info("Services initialized")

	// 5. LLM client
	registry := llm.NewRegistry()
	for provider, cred := range cfg.ProviderCredentials {
		registry.SetCredential(provider, llm.Credential{
			APIKey:  cred.APIKey,
			BaseURL: cred.BaseURL,
		})
	}
	registry.SetAllowedModels(cfg.AllowedModels)
	llmClient := llm.NewClient(registry, usageService, slog.Default())

	var moderator runner.Moderator
	if cfg.ModerationLLMModel != "" {
		moderator = runner.NewLLMModerator(llmClient, cfg.ModerationLLMModel)
	}

	// 6. Object storage
	uploader, err := buildUploader(cfg)
	if err != nil {
		slog.Error("Failed to initialize object storage", "provider", cfg.OSSProvider, "error", err)
		os.Exit(1)
	}

	// 7. TTS. Courses with audio disabled never reach the provider, so a
	// missing credential only disables synthesis instead of failing startup.
	var ttsDeps *runner.TTSDeps
	pool := tts.NewPool(cfg.TTSWorkerCount)
	if cfg.VolcTTSAppID != "" && cfg.VolcTTSAccessToken != "" {
		provider, err := tts.NewVolcengineProvider(cfg.VolcTTSAppID, cfg.VolcTTSAccessToken,
			tts.WithVolcengineCluster(cfg.VolcTTSCluster))
		if err != nil {
			slog.Error("Failed to initialize TTS provider", "error", err)
			os.Exit(1)
		}
		pool.Start()
		ttsDeps = &runner.TTSDeps{Provider: provider, Pool: pool, Uploader: uploader}
		slog.Info("TTS synthesis enabled", "workers", cfg.TTSWorkerCount)
	} else {
		slog.Info("TTS credentials absent, synthesis disabled")
	}

	// 8. Run engine wiring
	runDeps := runner.Deps{
		Config:   cfg,
		LLM:      llmClient,
		Shifu:    shifuService,
		Outline:  outlineService,
		Progress: progressService,
		Blocks:   generatedService,
		Users:    userService,
		Profile:  runner.NewRedisProfileStore(rdb, cfg.RedisPrefix),
		Usage:    usageService,
		Tx: &runner.SQLTxRunner{
			DB:       db,
			Progress: progressService,
			Blocks:   generatedService,
			Audio:    audioService,
		},
		Moderator: moderator,
		TTS:       ttsDeps,
	}
	lock := runner.NewLock(rdb, cfg.RedisPrefix)

	// 9. HTTP server
	httpServer := api.NewServer(cfg, dbClient, api.Stores{
		Shifus:   shifuService,
		Outlines: outlineService,
		Progress: progressService,
		Blocks:   generatedService,
		Audio:    audioService,
	}, runDeps, lock)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", ":"+cfg.HTTPPort)
		if err := httpServer.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("FlowRun started successfully")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// Stop the HTTP surface first so no new runs start, then drain the
	// synthesis pool so in-flight segments finish.
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	pool.Stop()

	slog.Info("Shutdown complete")
}

// resolveSecrets backfills credentials the environment leaves empty from the
// dynamic config store. The store checks the environment first itself, so
// env values always win.
func resolveSecrets(ctx context.Context, store *config.Store, cfg *config.Config) {
	lookup := func(key string, dst *string) {
		if *dst != "" {
			return
		}
		val, err := store.Get(ctx, key)
		if err != nil {
			slog.Warn("Failed to read config store key", "key", key, "error", err)
			return
		}
		*dst = val
	}

	lookup("VOLC_TTS_APP_ID", &cfg.VolcTTSAppID)
	lookup("VOLC_TTS_ACCESS_TOKEN", &cfg.VolcTTSAccessToken)
	lookup("VOLC_TTS_CLUSTER", &cfg.VolcTTSCluster)
	lookup("OSS_ACCESS_KEY_ID", &cfg.OSSAccessKeyID)
	lookup("OSS_ACCESS_KEY_SECRET", &cfg.OSSAccessKeySecret)

	for _, label := range []string{"openai", "qwen", "ernie", "glm", "silicon", "ark", "gemini"} {
		cred := cfg.ProviderCredentials[label]
		if cred.APIKey != "" {
			continue
		}
		val, err := store.Get(ctx, strings.ToUpper(label)+"_API_KEY")
		if err != nil || val == "" {
			continue
		}
		cred.APIKey = val
		cfg.ProviderCredentials[label] = cred
	}
}

// buildUploader selects where finalised audio lands.
func buildUploader(cfg *config.Config) (oss.Uploader, error) {
	if cfg.OSSProvider == "aliyun" {
		return oss.NewAliyunUploader(oss.AliyunConfig{
			Endpoint:        cfg.OSSEndpoint,
			Bucket:          cfg.OSSBucket,
			AccessKeyID:     cfg.OSSAccessKeyID,
			AccessKeySecret: cfg.OSSAccessKeySecret,
			PublicBaseURL:   cfg.OSSPublicBaseURL,
		})
	}
	return oss.NewLocalUploader(cfg.LocalStorageRoot, cfg.LocalStorageBaseURL)
}
