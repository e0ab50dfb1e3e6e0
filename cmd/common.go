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
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nais/armordash/pkg/config"
	"github.com/nais/armordash/pkg/source"
)

const (
	defaultTimeout      = 10 * time.Second
	baseStatusServerURL = "http://unix"
	developmentLevel    = "development"
)

func getLogger(level string) (logr.Logger, error) {
	var cfg zap.Config
	if level == developmentLevel {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		if level != "" {
			lvl, err := zap.ParseAtomicLevel(level)
			if err != nil {
				return logr.Logger{}, fmt.Errorf("error parsing log level: %w", err)
			}
			cfg.Level = lvl
		}
	}

	logger, err := cfg.Build()
	if err != nil {
		return logr.Logger{}, fmt.Errorf("error creating logger: %w", err)
	}
	logIf := zapr.NewLogger(logger)
	// NOTE: While this may return errors, they're mostly
	// harmless and handling them is more work than its worth
	//nolint:errcheck
	defer logger.Sync() // flushes buffer, if any
	return logIf, nil
}

func getHTTPClient(sockpath string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
				conn, err := net.Dial("unix", sockpath)
				if err != nil {
					return nil, fmt.Errorf("error dialing unix socket: %w", err)
				}
				return conn, nil
			},
		},
	}
}

func loadConfig(cmd *cobra.Command) (*config.Loader, *config.Config, error) {
	configFile, err := cmd.Flags().GetString(configFlag)
	if err != nil {
		return nil, nil, fmt.Errorf("failed getting %s flag: %w", configFlag, err)
	}

	loader, err := config.NewLoader(configFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return loader, cfg, nil
}

func newSourceClient(cfg *config.Config, tp trace.TracerProvider, logger logr.Logger) (*source.Client, error) {
	client, err := source.New(cfg.Source(),
		source.WithLogger(logger),
		source.WithTracerProvider(tp))
	if err != nil {
		return nil, fmt.Errorf("creating policy source: %w", err)
	}
	return client, nil
}
