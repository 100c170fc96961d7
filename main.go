package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"zakai/internal/config"
	"zakai/internal/conversation"
	"zakai/internal/email"
	"zakai/internal/gateway"
	"zakai/internal/llm"
	"zakai/internal/logger"
	"zakai/internal/router"
	"zakai/internal/server"
	"zakai/internal/session"
	"zakai/internal/tools"
	"zakai/internal/vision"
	"zakai/internal/weather"
)

func main() {
	// .env is optional; deployments configure through the environment.
	_ = godotenv.Load()

	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := logger.Init(cfg.Log); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize logger")
	}
	mainLog := logger.With("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	chatModel, err := llm.NewChatModel(ctx, cfg.Model)
	if err != nil {
		mainLog.Fatal().Err(err).Msg("failed to create chat model")
	}

	userService := gateway.NewHTTPClient(cfg.Gateway.BaseURL, cfg.Gateway.Timeout())

	var history gateway.HistoryStore = userService
	if cfg.Gateway.Mode == "redis" {
		store, err := gateway.NewRedisStore(ctx, cfg.Gateway.RedisURL, cfg.Gateway.TTL())
		if err != nil {
			mainLog.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer store.Close()
		history = store
	}

	mail := email.NewClient(cfg.Email, userService)
	forecaster := weather.NewService(chatModel, cfg.Weather)

	registry, err := tools.NewRegistry(logger.With("tools"),
		tools.NewWeatherHandler(forecaster, logger.With("weather_tool")),
		tools.NewEmailHandler(userService, mail, cfg.Server.AuthURL, logger.With("email_tool")),
	)
	if err != nil {
		mainLog.Fatal().Err(err).Msg("failed to build tool registry")
	}

	route := router.New(chatModel, cfg.Router.MaxContextMessages, logger.With("router"))

	newEngine := func() session.Engine {
		return conversation.NewEngine(conversation.Config{
			MaxHistory: cfg.Session.MaxHistory,
			Model:      chatModel,
			Router:     route,
			Tools:      registry,
			Log:        logger.With("conversation"),
		})
	}

	sessions := session.NewManager(session.Config{
		Store:       history,
		NewEngine:   newEngine,
		IdleTimeout: cfg.Session.IdleTimeout(),
		SweepEvery:  cfg.Session.SweepInterval(),
		Log:         logger.With("session"),
	})
	// Run flushes unsaved history when ctx is cancelled; main must wait for
	// it before exiting or the flush is cut short.
	sweepDone := make(chan struct{})
	go func() {
		sessions.Run(ctx)
		close(sweepDone)
	}()

	captioner := vision.NewCaptioner(chatModel)
	srv := server.New(cfg.Server, sessions, captioner)

	go func() {
		if err := srv.ListenAndServe(); err != nil {
			mainLog.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	mainLog.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	<-sweepDone
	if err != nil {
		mainLog.Error().Err(err).Msg("shutdown did not complete cleanly")
		os.Exit(1)
	}
}
