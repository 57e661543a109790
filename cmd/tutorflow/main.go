package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/opentalon/tutorflow/internal/api"
	"github.com/opentalon/tutorflow/internal/catalog"
	"github.com/opentalon/tutorflow/internal/config"
	"github.com/opentalon/tutorflow/internal/grpcapi"
	"github.com/opentalon/tutorflow/internal/server"
	"github.com/opentalon/tutorflow/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tutorflow", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to config file (default: built-in Gemini setup)")
	envFile := fs.String("env", ".env", "dotenv file loaded before the config; missing files are ignored")
	showVersion := fs.Bool("version", false, "print version and exit")
	invoke := fs.String("invoke", "", "run one request, print the response JSON and exit")
	catalogSchema := fs.Bool("catalog-schema", false, "print the JSON Schema of the catalog file format and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Fprintln(stdout, version.Get())
		return 0
	}
	if *catalogSchema {
		return printJSON(stdout, stderr, catalog.FileSchema())
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(stderr, "Error loading env: %v\n", err)
		return 1
	}
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(stderr, "Error loading config: %v\n", err)
			return 1
		}
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Invalid config:\n%v\n", err)
		return 1
	}
	logger := cfg.Log.NewLogger(stderr)
	slog.SetDefault(logger)

	a, err := build(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		return 1
	}

	if *invoke != "" {
		defer a.close()
		return invokeOnce(ctx, a, *invoke, stdout, stderr)
	}

	logger.Info("starting", "version", version.Get().Version, "addr", cfg.Server.Addr, "grpc_addr", cfg.Server.GRPCAddr)
	grpcSrv := grpcapi.NewServer(grpcapi.NewService(a.workflow, logger))
	srv := server.New(a.router(cfg, logger), grpcSrv, server.Options{
		HTTPAddr: cfg.Server.Addr,
		GRPCAddr: cfg.Server.GRPCAddr,
		Logger:   logger,
	})
	srv.OnShutdown(a.close)
	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped", "err", err)
		return 1
	}
	return 0
}

func invokeOnce(ctx context.Context, a *app, msg string, stdout, stderr io.Writer) int {
	if strings.TrimSpace(msg) == "" {
		fmt.Fprintln(stderr, api.ErrEmptyMessage)
		return 2
	}
	res, err := a.workflow.Run(ctx, msg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return printJSON(stdout, stderr, api.NewInvokeResponse(res))
}

func printJSON(stdout, stderr io.Writer, v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
