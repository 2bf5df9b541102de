package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/comfortillo/chat-relay/internal/handlers"
	"github.com/comfortillo/chat-relay/internal/services"
	"github.com/joho/godotenv"
)

func main() {
	configFlag := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfgPath, err := configPath(*configFlag)
	if err != nil {
		log.Fatal(err)
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal(err)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("Server stopped", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config, logger *slog.Logger) error {
	llm, err := cfg.LLM.llm(context.Background(), cfg.SystemPrompt, logger)
	if err != nil {
		return fmt.Errorf("error creating llm: %w", err)
	}
	if c, ok := llm.(io.Closer); ok {
		defer c.Close()
	}

	var journal handlers.Journal
	if cfg.Journal.Path != "" {
		bj, err := services.NewBoltJournal(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer bj.Close()
		journal = bj
	}

	var limiter handlers.Limiter
	cl, err := cfg.RateLimit.limiter()
	if err != nil {
		return fmt.Errorf("error creating rate limiter: %w", err)
	}
	if cl != nil {
		defer cl.Close()
		limiter = cl
	}

	m, err := handlers.NewMain(llm, journal, handlers.Config{ErrorPrefix: cfg.ErrorPrefix}, logger)
	if err != nil {
		return err
	}

	h, err := m.Routes(cfg.guards(limiter))
	if err != nil {
		return err
	}

	// Streams are open-ended, so WriteTimeout stays unset.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting",
			slog.String("addr", srv.Addr),
			slog.String("provider", llm.Name()),
			slog.String("model", llm.Model()),
			slog.Bool("journal", journal != nil),
			slog.Bool("rateLimit", limiter != nil),
			slog.Bool("auth", cfg.Auth.JWTSecret != ""))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}

	return nil
}
