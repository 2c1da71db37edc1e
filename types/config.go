package types

import (
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

const (
	// MaxDimensionNameSize is the longest dimension name the backend accepts.
	MaxDimensionNameSize = 256
	// MaxDimensionValueSize is the longest dimension value the backend accepts.
	MaxDimensionValueSize = 1024
	// DefaultFailureLogCacheSize bounds how many failing metrics are remembered for log deduplication.
	DefaultFailureLogCacheSize = 1024
)

// ExporterConfig holds everything needed to build an exporter.
type ExporterConfig struct {
	// ConnectionString is a set of `Key=Value;` pairs. Endpoint selects the transport,
	// Account and Namespace provide defaults for the fields below.
	ConnectionString string `yaml:"connection_string"`
	// Account is the monitoring account written into every message.
	Account string `yaml:"account"`
	// Namespace is the metric namespace written into every message.
	Namespace string `yaml:"namespace"`
	// PrepopulatedDimensions are added to every point ahead of its own dimensions.
	PrepopulatedDimensions map[string]string `yaml:"prepopulated_dimensions"`
	// FailureLogCacheSize is how many distinct failing metrics are logged at error level before
	// repeats drop to debug. Zero uses DefaultFailureLogCacheSize.
	FailureLogCacheSize uint32 `yaml:"failure_log_cache_size"`
}

// Validate reports every problem with the configuration at once.
func (cfg ExporterConfig) Validate() error {
	var errs error
	if cfg.ConnectionString == "" {
		errs = multierror.Append(errs, fmt.Errorf("connection string is required"))
	}
	for name, value := range cfg.PrepopulatedDimensions {
		switch name {
		case "":
			errs = multierror.Append(errs, fmt.Errorf("prepopulated dimension name must not be empty"))
			continue
		case "_microsoft_metrics_account", "_microsoft_metrics_namespace":
			errs = multierror.Append(errs, fmt.Errorf("prepopulated dimension %q is reserved", name))
		}
		if utf8.RuneCountInString(name) > MaxDimensionNameSize {
			errs = multierror.Append(errs, fmt.Errorf("prepopulated dimension name %q is longer than %d characters", name, MaxDimensionNameSize))
		}
		if utf8.RuneCountInString(value) > MaxDimensionValueSize {
			errs = multierror.Append(errs, fmt.Errorf("value of prepopulated dimension %q is longer than %d characters", name, MaxDimensionValueSize))
		}
	}
	return errs
}

// LoadConfig reads an ExporterConfig from a YAML file.
func LoadConfig(path string) (ExporterConfig, error) {
	var cfg ExporterConfig
	buf, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}
