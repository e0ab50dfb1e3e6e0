package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nais/armordash/pkg/source"
	"github.com/nais/armordash/pkg/tracing"
)

// Configuration keys. Each is also a flag name and, upper-cased with
// dashes replaced by underscores and prefixed with ARMORDASH_, an
// environment variable.
const (
	Listen             = "listen"
	BackendURL         = "backend-url"
	Project            = "project"
	RequireFingerprint = "require-fingerprint"
	FooterLabel        = "footer-label"
	FooterURL          = "footer-url"
	StartupProbeURL    = "startup-probe-url"
	SocketUID          = "socket-uid"
	SocketGID          = "socket-gid"
	LogLevel           = "log-level"
	WatchConfig        = "watch-config"
	OTLPEndpoint       = "otlp-endpoint"
	OTLPProtocol       = "otlp-protocol"
	OTLPInsecure       = "otlp-insecure"
	TraceSampleRatio   = "trace-sample-ratio"
)

const (
	envPrefix      = "ARMORDASH"
	configName     = ".armordash"
	DefaultListen  = "127.0.0.1:3000"
	DefaultFooter  = "naas.nais.io"
	DefaultFootURL = "https://naas.nais.io/"
)

var (
	ErrMissingValue = errors.New("missing configuration value")
	ErrInvalidValue = errors.New("invalid configuration value")
	ErrNoConfigFile = errors.New("no configuration file in use")
)

type Config struct {
	Listen             string  `mapstructure:"listen"`
	BackendURL         string  `mapstructure:"backend-url"`
	Project            string  `mapstructure:"project"`
	RequireFingerprint bool    `mapstructure:"require-fingerprint"`
	FooterLabel        string  `mapstructure:"footer-label"`
	FooterURL          string  `mapstructure:"footer-url"`
	StartupProbeURL    string  `mapstructure:"startup-probe-url"`
	SocketUID          int     `mapstructure:"socket-uid"`
	SocketGID          int     `mapstructure:"socket-gid"`
	LogLevel           string  `mapstructure:"log-level"`
	WatchConfig        bool    `mapstructure:"watch-config"`
	OTLPEndpoint       string  `mapstructure:"otlp-endpoint"`
	OTLPProtocol       string  `mapstructure:"otlp-protocol"`
	OTLPInsecure       bool    `mapstructure:"otlp-insecure"`
	TraceSampleRatio   float64 `mapstructure:"trace-sample-ratio"`
}

// DefineSourceFlags adds the flags locating the policies endpoint.
func DefineSourceFlags(fs *pflag.FlagSet) {
	fs.String(BackendURL, source.DefaultBackendURL, "Base URL of the armor backend.")
	fs.String(Project, "", "Project id whose policies are listed.")
	fs.Bool(RequireFingerprint, false, "Treat policies without a unique fingerprint as a malformed response.")
}

// DefineServeFlags adds the flags of the dashboard server.
func DefineServeFlags(fs *pflag.FlagSet) {
	fs.String(Listen, DefaultListen, "Address to listen on, host:port or unix:/path/to/socket.")
	fs.String(FooterLabel, DefaultFooter, "Label of the page footer link.")
	fs.String(FooterURL, DefaultFootURL, "Target of the page footer link.")
	fs.String(StartupProbeURL, "", "URL queried once at startup; the result is only logged.")
	fs.Int(SocketUID, os.Getuid(), "Owner of the unix socket.")
	fs.Int(SocketGID, os.Getgid(), "Group of the unix socket.")
	fs.Bool(WatchConfig, false, "Reload the configuration file when it changes.")
	fs.String(OTLPEndpoint, "", "OTLP collector host:port traces are exported to; tracing is off when empty.")
	fs.String(OTLPProtocol, tracing.ProtocolHTTP, "OTLP protocol, http or grpc.")
	fs.Bool(OTLPInsecure, false, "Export traces without TLS.")
	fs.Float64(TraceSampleRatio, 1, "Fraction of policy fetches traced.")
}

// Loader reads configuration from flags, ARMORDASH_* environment variables
// and an optional YAML file, in that order of precedence.
type Loader struct {
	v *viper.Viper
}

// NewLoader reads configFile, or .armordash.yaml from the working or home
// directory when configFile is empty. A missing default file is not an error.
func NewLoader(configFile string, flagsets ...*pflag.FlagSet) (*Loader, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault(Listen, DefaultListen)
	v.SetDefault(BackendURL, source.DefaultBackendURL)
	v.SetDefault(FooterLabel, DefaultFooter)
	v.SetDefault(FooterURL, DefaultFootURL)
	v.SetDefault(SocketUID, os.Getuid())
	v.SetDefault(SocketGID, os.Getgid())
	v.SetDefault(LogLevel, "info")
	v.SetDefault(OTLPProtocol, tracing.ProtocolHTTP)
	v.SetDefault(TraceSampleRatio, 1.0)

	if configFile != "" {
		path, err := homedir.Expand(configFile)
		if err != nil {
			return nil, fmt.Errorf("expanding config path %s: %w", configFile, err)
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	for _, fs := range flagsets {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("binding flags: %w", err)
		}
	}

	return &Loader{v: v}, nil
}

// ConfigFileUsed is the path of the file read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) Load() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	return &cfg, nil
}

// Watch reloads the configuration file on every change and hands the
// result to fn.
func (l *Loader) Watch(fn func(*Config, error)) error {
	if l.v.ConfigFileUsed() == "" {
		return ErrNoConfigFile
	}
	l.v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := l.Load()
		if err == nil {
			err = cfg.ValidateSource()
		}
		fn(cfg, err)
	})
	l.v.WatchConfig()
	return nil
}

// Source returns the settings of the data source adapter.
func (c *Config) Source() source.Config {
	return source.Config{
		BackendURL:         c.BackendURL,
		Project:            c.Project,
		RequireFingerprint: c.RequireFingerprint,
	}
}

// Tracing returns the settings of the trace exporter.
func (c *Config) Tracing() tracing.Config {
	return tracing.Config{
		Endpoint:    c.OTLPEndpoint,
		Protocol:    c.OTLPProtocol,
		Insecure:    c.OTLPInsecure,
		SampleRatio: c.TraceSampleRatio,
	}
}

func (c *Config) ValidateSource() error {
	if c.Project == "" {
		return fmt.Errorf("%w: %s", ErrMissingValue, Project)
	}
	if err := c.Source().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return nil
}

// Validate checks everything the dashboard server needs.
func (c *Config) Validate() error {
	if err := c.ValidateSource(); err != nil {
		return err
	}
	if c.Listen == "" {
		return fmt.Errorf("%w: %s", ErrMissingValue, Listen)
	}
	if c.FooterURL != "" {
		if _, err := url.Parse(c.FooterURL); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidValue, FooterURL, err)
		}
	}
	if c.StartupProbeURL != "" {
		u, err := url.Parse(c.StartupProbeURL)
		if err != nil || u.Host == "" {
			return fmt.Errorf("%w: %s: %s", ErrInvalidValue, StartupProbeURL, c.StartupProbeURL)
		}
	}
	if err := c.Tracing().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return nil
}
