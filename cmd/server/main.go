package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/store"
)

func main() {
	config := server.NewConfigFromEnv()

	flag.StringVar(&config.ChatAddr, "addr", config.ChatAddr, "TCP address of the chat listener")
	flag.StringVar(&config.Port, "http", config.Port, "HTTP address for health, stats and WebSocket")
	flag.StringVar(&config.DBPath, "db", config.DBPath, "SQLite database path (empty keeps history in memory)")
	flag.Parse()

	setupLogging(config.LogLevel)
	log.Info().
		Str("chat_addr", config.ChatAddr).
		Str("http_addr", config.Port).
		Str("db", config.DBPath).
		Msg("starting chat server")

	st, err := openStore(config.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("db", config.DBPath).Msg("failed to open store")
	}

	hub := server.NewHub(*config, st)

	chatServer := server.NewChatServer(hub)
	go func() {
		if err := chatServer.ListenAndServe(); err != nil {
			log.Fatal().Err(err).Msg("chat listener failed")
		}
	}()

	httpServer := server.CreateServer(config.Port, server.SetupRoutes(hub))
	go func() {
		if err := server.StartServer(httpServer); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		config.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http": func(ctx context.Context) error {
				return server.ShutdownServer(httpServer, timeoutFrom(ctx, config.ShutdownTimeout))
			},
			"chat": func(ctx context.Context) error {
				return chatServer.Shutdown(ctx)
			},
		},
	)

	exitCode := <-wait
	// Sessions append to the store until the hub has drained.
	if err := st.Close(); err != nil {
		log.Error().Err(err).Msg("error closing store")
		if exitCode == 0 {
			exitCode = 1
		}
	}
	log.Info().Int("code", exitCode).Msg("chat server exited")
	os.Exit(exitCode)
}

func setupLogging(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "console") {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func openStore(path string) (store.Store, error) {
	if path == "" {
		log.Warn().Msg("no database configured; history is kept in memory")
		return store.NewMemory(), nil
	}
	db, err := store.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func timeoutFrom(ctx context.Context, fallback time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		return time.Until(deadline)
	}
	return fallback
}
