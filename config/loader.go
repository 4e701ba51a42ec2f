package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/c360/gcslink/errors"
)

const (
	// DefaultEnvPrefix prefixes every environment override.
	DefaultEnvPrefix = "GCSLINK_"

	maxConfigSize = 1 << 20
)

//go:embed schema.json
var schemaJSON []byte

var schema = mustSchema()

func mustSchema() *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("config: invalid embedded schema: %v", err))
	}
	return s
}

// Loader handles configuration loading with layers and overrides.
type Loader struct {
	layers    []string
	envPrefix string
	environ   map[string]string
}

// NewLoader creates a loader that reads GCSLINK_* variables from the process
// environment.
func NewLoader() *Loader {
	return &Loader{envPrefix: DefaultEnvPrefix}
}

// AddLayer adds a YAML file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// SetEnvironment replaces the process environment as the source of
// overrides. A nil map restores the process environment.
func (l *Loader) SetEnvironment(environ map[string]string) {
	l.environ = environ
}

// LoadFile loads configuration from a single file.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, layers and environment overrides, then validates.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		if err := l.mergeLayer(cfg, path); err != nil {
			return nil, err
		}
	}

	opts := env.Options{Prefix: l.envPrefix}
	if l.environ != nil {
		opts.Environment = l.environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "apply environment overrides")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeLayer decodes path over cfg. Keys absent from the file keep their
// current values; an empty file changes nothing.
func (l *Loader) mergeLayer(cfg *Config, path string) error {
	data, err := readConfigFile(path)
	if err != nil {
		return err
	}

	if err := validateDocument(data); err != nil {
		return errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("validate %s", path))
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("decode %s", path))
	}
	return nil
}

// validateDocument checks one YAML document against the embedded schema.
func validateDocument(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(msgs, "; "))
}

// readConfigFile reads a regular file no larger than maxConfigSize.
func readConfigFile(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Loader", "Load", "empty config path")
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("stat %s", path))
	}
	if !info.Mode().IsRegular() {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: not a regular file: %s", errors.ErrInvalidConfig, path),
			"Loader", "Load", "check config file")
	}
	if info.Size() > maxConfigSize {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: config file too large: %d bytes > %d", errors.ErrInvalidConfig, info.Size(), maxConfigSize),
			"Loader", "Load", "check config file")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapTransient(err, "Loader", "Load", fmt.Sprintf("read %s", path))
	}
	return data, nil
}
