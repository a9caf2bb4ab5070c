package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"multisearch/internal/aggregate"
	"multisearch/internal/config"
	"multisearch/internal/iam"
	"multisearch/internal/metrics"
	"multisearch/internal/provider"
	providerfactory "multisearch/internal/provider/factory"
	"multisearch/internal/server"
)

const serveUsage = `Usage:
  multisearch serve [--config <path>] [--port <port>]

Flags:
  --config string   Path to YAML configuration file (optional; built-in defaults apply)
  --port   int      Override server port from configuration`

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, serveUsage)
	}

	var cfgPath string
	var overridePort int
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.IntVar(&overridePort, "port", 0, "override server port")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if overridePort == 0 {
		if env := os.Getenv("PORT"); env != "" {
			p, err := strconv.Atoi(env)
			if err != nil {
				return fmt.Errorf("PORT environment variable %q is not a number", env)
			}
			overridePort = p
		}
	}
	if overridePort != 0 {
		if overridePort <= 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		cfg.Server.Port = overridePort
	}
	if origin := os.Getenv("CLIENT_URL"); origin != "" {
		cfg.Server.ClientOrigin = origin
	}

	m := metrics.New()

	tokenManager := iam.NewManager(cfg.IAM, nil, m)
	if err := tokenManager.Start(ctx); err != nil {
		return err
	}
	defer tokenManager.Stop()

	registry := provider.NewRegistry()
	if err := providerfactory.RegisterConfiguredProviders(cfg, registry, tokenManager); err != nil {
		return err
	}

	runner := aggregate.NewRunner(registry, m, cfg.Server.QueryTimeout.Std())

	srv, err := server.New(cfg, registry, runner, m)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}
