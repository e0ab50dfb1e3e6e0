package version

import (
	"fmt"
	"io"
	"runtime"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"
)

var (
	buildDate string // build date in ISO8601 format, output of $(date -u +'%Y-%m-%dT%H:%M:%SZ')
	version   string // the current version of armordash
)

type Info struct {
	Version   string `json:"version,omitempty" yaml:"version,omitempty"`
	BuildDate string `json:"buildDate,omitempty" yaml:"buildDate,omitempty"`
	Compiler  string `json:"compiler,omitempty" yaml:"compiler,omitempty"`
	Platform  string `json:"platform,omitempty" yaml:"platform,omitempty"`
}

// AsKeyValues returns a key value slice of the info.
func (i *Info) AsKeyValues() []interface{} {
	return []interface{}{
		"version", i.Version,
		"buildDate", i.BuildDate,
		"compiler", i.Compiler,
		"platform", i.Platform,
	}
}

func Get() *Info {
	v := version
	if v == "" {
		v = "dev"
	}
	return &Info{
		Version:   v,
		BuildDate: buildDate,
		Compiler:  runtime.Compiler,
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// Write prints the build information as YAML.
func Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	if err := enc.Encode(Get()); err != nil {
		return fmt.Errorf("encoding version info: %w", err)
	}
	return nil
}

func PrintInfoPermissive(logger logr.Logger) {
	logger.Info(
		"armordash information",
		Get().AsKeyValues()...,
	)
}
