/*
Copyright © 2020 Red Hat, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/nais/armordash/pkg/config"
	"github.com/nais/armordash/pkg/dashboard"
	"github.com/nais/armordash/pkg/source"
	"github.com/nais/armordash/pkg/tracing"
	"github.com/nais/armordash/pkg/version"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the policy dashboard",
	Long: `Serves a web dashboard listing the project's security policies in a
sortable grid where rows can be selected.`,
	Args: cobra.NoArgs,
	Run:  serveCmdFunc,
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(serveCmd)
	config.DefineSourceFlags(serveCmd.Flags())
	config.DefineServeFlags(serveCmd.Flags())
}

func serveCmdFunc(cmd *cobra.Command, _ []string) {
	loader, cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Loading configuration: %s\n", err)
		syscall.Exit(1)
	}

	logger, err := getLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		syscall.Exit(1)
	}

	version.PrintInfoPermissive(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error(err, "Invalid configuration")
		syscall.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(ctx, cfg.Tracing(), logger)
	if err != nil {
		logger.Error(err, "Setting up tracing")
		syscall.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error(err, "Flushing traces")
		}
	}()

	client, err := newSourceClient(cfg, tp, logger)
	if err != nil {
		logger.Error(err, "Setting up policy source")
		syscall.Exit(1)
	}

	if cfg.StartupProbeURL != "" {
		go probe(ctx, client, cfg.StartupProbeURL, logger)
	}

	d := dashboard.New(client, dashboard.Options{
		Listen:    cfg.Listen,
		SocketUID: cfg.SocketUID,
		SocketGID: cfg.SocketGID,
		Footer:    dashboard.Footer{Label: cfg.FooterLabel, URL: cfg.FooterURL},
	}, logger)

	if cfg.WatchConfig {
		watchConfig(loader, d, tp, logger)
	}

	logger.Info("Starting dashboard", "policies", client.URL(), "listen", cfg.Listen)
	if err := d.Run(ctx); err != nil {
		logger.Error(err, "Running dashboard")
		syscall.Exit(1)
	}
	logger.Info("Exit signal received")
}

func probe(ctx context.Context, client *source.Client, url string, logger logr.Logger) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	status, err := client.Probe(ctx, url)
	if err != nil {
		logger.Error(err, "Startup probe failed", "url", url)
		return
	}
	logger.Info("Startup probe answered", "url", url, "status", status)
}

func watchConfig(loader *config.Loader, d *dashboard.Dashboard, tp trace.TracerProvider, logger logr.Logger) {
	err := loader.Watch(func(cfg *config.Config, err error) {
		if err != nil {
			logger.Error(err, "Ignoring configuration change")
			return
		}
		client, err := newSourceClient(cfg, tp, logger)
		if err != nil {
			logger.Error(err, "Ignoring configuration change")
			return
		}
		logger.Info("Configuration changed, reloading policies", "policies", client.URL())
		if err := d.SetFetcher(client); err != nil {
			logger.Error(err, "Remounting policy grid")
		}
	})
	if errors.Is(err, config.ErrNoConfigFile) {
		logger.Info("No configuration file to watch")
	} else if err != nil {
		logger.Error(err, "Watching configuration file")
	}
}
