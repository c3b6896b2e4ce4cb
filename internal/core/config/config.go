// Package config provides configuration management for the endpoint resolver.
package config

import (
	"time"
)

// ResolverConfig holds configuration for the gRPC endpoint resolver service.
type ResolverConfig struct {
	Host            string
	Port            int
	MetricsAddr     string // empty disables the /metrics listener
	RequestTimeout  time.Duration
	CacheSize       int // result cache entries per service; 0 disables
	PartitionsFile  string
	PreloadServices []string
	OTLPEndpoint    string // empty disables trace export
	RequireAPIKey   bool   // gate ResolveEndpoint on an x-api-key header
}

// DefaultResolverConfig returns configuration with default values.
func DefaultResolverConfig() *ResolverConfig {
	return &ResolverConfig{
		Host:           "0.0.0.0",
		Port:           50051,
		MetricsAddr:    ":9090",
		RequestTimeout: 5 * time.Second,
		CacheSize:      4096,
	}
}

// Addr returns the host:port the gRPC server listens on.
func (c *ResolverConfig) Addr() string {
	return joinHostPort(c.Host, c.Port)
}
