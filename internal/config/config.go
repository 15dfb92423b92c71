// --------------------------------------------------------------------------------
// Author: Thomas F McGeehan V
//
// This file is part of a software project developed by Thomas F McGeehan V.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//
// For more information about the MIT License, please visit:
// https://opensource.org/licenses/MIT
//
// Acknowledgment appreciated but not required.
// --------------------------------------------------------------------------------

// Package config loads and validates the YAML configuration a Store is
// opened with: which storage backend to root on, WAL buffer
// thresholds, and the migration control plane's auth gate.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BackendKind selects the storage.Backend a Store is built on.
type BackendKind string

const (
	BackendFilesystem BackendKind = "filesystem"
	BackendS3         BackendKind = "s3"
	BackendMemory     BackendKind = "memory"
)

// Config is the root document read from a store's config.yaml.
type Config struct {
	Store struct {
		Backend BackendKind `yaml:"backend"`
		// Root is the filesystem root directory, or "bucket/prefix" for S3.
		Root string `yaml:"root"`
	} `yaml:"store"`

	WAL struct {
		// MaxBufferSize is the per-namespace event count threshold.
		MaxBufferSize int `yaml:"max_buffer_size"`
		// MaxBufferBytes is the per-namespace serialized-size threshold.
		MaxBufferBytes int `yaml:"max_buffer_bytes"`
		// SQLitePath is where the WAL's embedded state machine lives.
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"wal"`

	CircuitBreaker struct {
		FailureThreshold int `yaml:"failure_threshold"`
		SuccessThreshold int `yaml:"success_threshold"`
		ResetTimeoutMs   int `yaml:"reset_timeout_ms"`
		FailureWindowMs  int `yaml:"failure_window_ms"`
	} `yaml:"circuit_breaker"`

	Index struct {
		// CacheBudgetBytes bounds the shared index LRU cache (catalogs,
		// manifests, shards, bloom filters, FTS data).
		CacheBudgetBytes int64 `yaml:"cache_budget_bytes"`
	} `yaml:"index"`

	Migration struct {
		// JWKSURI gates the migration control plane; when empty every
		// control endpoint returns 401.
		JWKSURI string `yaml:"jwks_uri"`
	} `yaml:"migration"`

	LogLevel string `yaml:"log_level"`
}

// Defaults returns a Config with every threshold set to its default
// and an in-memory backend, suitable for tests and quick starts.
func Defaults() *Config {
	c := &Config{}
	c.Store.Backend = BackendMemory
	c.WAL.MaxBufferSize = 100
	c.WAL.MaxBufferBytes = 64 * 1024
	c.WAL.SQLitePath = "parquedb-wal.db"
	c.CircuitBreaker.FailureThreshold = 5
	c.CircuitBreaker.SuccessThreshold = 2
	c.CircuitBreaker.ResetTimeoutMs = 30_000
	c.CircuitBreaker.FailureWindowMs = 60_000
	c.Index.CacheBudgetBytes = 64 * 1024 * 1024
	c.LogLevel = "info"
	return c
}

// Parse reads and validates a Config from a YAML file at path.
func Parse(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config %q: %w", path, err)
	}
	defer f.Close()

	c := Defaults()
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(c); err != nil {
		return nil, fmt.Errorf("decoding config %q: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate fails eagerly on malformed configuration so construction, not
// first use, is where configuration errors surface.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendFilesystem, BackendS3, BackendMemory:
	default:
		return fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend)
	}
	if c.Store.Backend != BackendMemory && c.Store.Root == "" {
		return fmt.Errorf("store.root is required for backend %q", c.Store.Backend)
	}
	if c.WAL.MaxBufferSize <= 0 {
		return fmt.Errorf("wal.max_buffer_size must be greater than 0")
	}
	if c.WAL.MaxBufferBytes <= 0 {
		return fmt.Errorf("wal.max_buffer_bytes must be greater than 0")
	}
	if c.Store.Backend == BackendS3 {
		if _, ok := os.LookupEnv("R2_ACCESS_KEY_ID"); !ok {
			return fmt.Errorf("store.backend=s3 requires R2_ACCESS_KEY_ID")
		}
		if _, ok := os.LookupEnv("R2_SECRET_ACCESS_KEY"); !ok {
			return fmt.Errorf("store.backend=s3 requires R2_SECRET_ACCESS_KEY")
		}
		if _, ok := os.LookupEnv("R2_URL"); !ok {
			return fmt.Errorf("store.backend=s3 requires R2_URL")
		}
	}
	return nil
}
