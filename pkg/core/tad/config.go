// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tad

import (
	"os"
	"runtime"
	"strconv"
	"sync"

	"github.com/gomlx/tad/internal/workerspool"
	"k8s.io/klog/v2"
)

const (
	// GOMLX_TAD_PARALLELISM is the environment variable with the default parallelism used to build
	// offset tables: 0 disables parallelism, -1 makes it unlimited. Defaults to runtime.NumCPU().
	GOMLX_TAD_PARALLELISM = "GOMLX_TAD_PARALLELISM"

	// GOMLX_TAD_MIN_PER_WORKER is the environment variable with the minimum number of TADs per
	// parallel task when building offset tables.
	GOMLX_TAD_MIN_PER_WORKER = "GOMLX_TAD_MIN_PER_WORKER"

	// DefaultMinTadsPerWorker is used if GOMLX_TAD_MIN_PER_WORKER is not set.
	DefaultMinTadsPerWorker = 1024
)

// Config of the parallel construction of offset tables.
type Config struct {
	// Parallelism is the soft limit of goroutines used: 0 disables parallelism, and a negative
	// value makes it unlimited.
	Parallelism int

	// MinTadsPerWorker is the minimum number of offsets computed by each parallel task.
	MinTadsPerWorker int
}

var (
	defaultMu     sync.Mutex
	defaultConfig *Config
	defaultPool   *workerspool.Pool
)

// DefaultConfig returns the configuration used by TADs built without an explicit pool.
//
// On first use it is read from the environment (GOMLX_TAD_PARALLELISM and GOMLX_TAD_MIN_PER_WORKER);
// malformed values are logged and ignored.
func DefaultConfig() Config {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	lockedInitDefaults()
	return *defaultConfig
}

// SetDefaultConfig replaces the default configuration, and the default worker pool with it.
// TADs already holding the previous pool keep using it.
func SetDefaultConfig(config Config) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if config.MinTadsPerWorker <= 0 {
		config.MinTadsPerWorker = DefaultMinTadsPerWorker
	}
	defaultConfig = &config
	defaultPool = workerspool.New(config.Parallelism)
	klog.V(2).Infof("tad: default config set to %+v", config)
}

// defaultWorkers returns the default pool and minimum TADs per task.
func defaultWorkers() (*workerspool.Pool, int) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	lockedInitDefaults()
	return defaultPool, defaultConfig.MinTadsPerWorker
}

func lockedInitDefaults() {
	if defaultConfig != nil {
		return
	}
	config := ConfigFromEnv()
	defaultConfig = &config
	defaultPool = workerspool.New(config.Parallelism)
}

// ConfigFromEnv returns the configuration defined by the environment variables, using the
// defaults for the variables not set.
func ConfigFromEnv() Config {
	return Config{
		Parallelism:      intFromEnv(GOMLX_TAD_PARALLELISM, runtime.NumCPU()),
		MinTadsPerWorker: max(intFromEnv(GOMLX_TAD_MIN_PER_WORKER, DefaultMinTadsPerWorker), 1),
	}
}

func intFromEnv(name string, defaultValue int) int {
	str, found := os.LookupEnv(name)
	if !found || str == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(str)
	if err != nil {
		klog.Warningf("tad: ignoring invalid value %q for $%s, using %d: %v", str, name, defaultValue, err)
		return defaultValue
	}
	return value
}
