package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string) (*ResolverConfig, error) {
	v := viper.New()

	d := DefaultResolverConfig()
	v.SetDefault("resolver.host", d.Host)
	v.SetDefault("resolver.port", d.Port)
	v.SetDefault("resolver.metrics_addr", d.MetricsAddr)
	v.SetDefault("resolver.request_timeout", d.RequestTimeout.String())
	v.SetDefault("resolver.cache_size", d.CacheSize)
	v.SetDefault("resolver.partitions_file", "")
	v.SetDefault("resolver.preload_services", []string{})
	v.SetDefault("resolver.otlp_endpoint", "")
	v.SetDefault("resolver.require_api_key", false)

	// ER_RESOLVER_PORT overrides resolver.port
	v.SetEnvPrefix("ER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := validateNoSecretsInConfig(v); err != nil {
			return nil, err
		}
	}

	cfg := &ResolverConfig{
		Host:            v.GetString("resolver.host"),
		Port:            v.GetInt("resolver.port"),
		MetricsAddr:     v.GetString("resolver.metrics_addr"),
		RequestTimeout:  v.GetDuration("resolver.request_timeout"),
		CacheSize:       v.GetInt("resolver.cache_size"),
		PartitionsFile:  v.GetString("resolver.partitions_file"),
		PreloadServices: splitServices(v.GetStringSlice("resolver.preload_services")),
		OTLPEndpoint:    v.GetString("resolver.otlp_endpoint"),
		RequireAPIKey:   v.GetBool("resolver.require_api_key"),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig checks port range, a positive timeout and a non-negative cache size.
func validateConfig(cfg *ResolverConfig) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", cfg.Port)
	}
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", cfg.RequestTimeout)
	}
	if cfg.CacheSize < 0 {
		return fmt.Errorf("cache_size must not be negative, got %d", cfg.CacheSize)
	}
	if cfg.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddr); err != nil {
			return fmt.Errorf("metrics_addr %q: %w", cfg.MetricsAddr, err)
		}
	}
	return nil
}

// validateNoSecretsInConfig keeps HMAC secrets out of config files. Only the
// file is inspected, so ER_HMAC_SECRET in the environment is unaffected.
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.InConfig("hmac_secret") || v.InConfig("resolver.hmac_secret") {
		return fmt.Errorf("HMAC secrets not allowed in config files (use ER_HMAC_SECRET environment variable)")
	}
	return nil
}

// splitServices accepts both a YAML list and a comma-separated env value.
func splitServices(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
