package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"sebastian/internal/app"
	logx "sebastian/pkg/logx"
)

func main() {
	// Optional .env for channel tokens (token_env) and SEBASTIAN_CONFIG.
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", defaultConfigPath(), "path to config yaml/json")
	flag.Parse()

	boot := logx.NewConsole("info").With(logx.String("comp", "main"))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(ctx, cfgPath)
	if err != nil {
		boot.Error("fatal", logx.String("config", cfgPath), logx.Err(err))
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		boot.Error("fatal start", logx.Err(err))
		stopCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.Stop(stopCtx, app.StopFatalError)
		c()
		os.Exit(1)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, c := context.WithTimeout(context.Background(), 10*time.Second)
	defer c()
	_ = a.Stop(stopCtx, reason)

	if reason == app.StopFatalError {
		if err := a.Err(); err != nil {
			boot.Error("fatal", logx.Err(err))
		}
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("SEBASTIAN_CONFIG"); p != "" {
		return p
	}
	return "./config.yaml"
}
