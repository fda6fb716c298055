package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables understood by ApplyEnv.
const (
	EnvListen          = "TALLY_LISTEN"
	EnvSwitcherAddress = "TALLY_SWITCHER_ADDRESS"
	EnvMaxInput        = "TALLY_MAX_INPUT"
	EnvLogLevel        = "TALLY_LOG_LEVEL"
)

// LookupFunc reports the value of an environment variable.
type LookupFunc func(key string) (string, bool)

// Environment returns a lookup over the process environment that falls back
// to the given .env files. Process variables win over file values. Missing
// files are skipped.
func Environment(files ...string) (LookupFunc, error) {
	vars := make(map[string]string)
	for _, file := range files {
		values, err := godotenv.Read(file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		for k, v := range values {
			if _, seen := vars[k]; !seen {
				vars[k] = v
			}
		}
	}

	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := vars[key]
		return v, ok
	}, nil
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	if v, ok := lookup(EnvListen); ok && v != "" {
		c.Listen = v
	}
	if v, ok := lookup(EnvSwitcherAddress); ok && v != "" {
		c.Switcher.Address = v
	}
	if v, ok := lookup(EnvMaxInput); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", ErrInvalid, EnvMaxInput, v)
		}
		c.MaxInput = n
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
	return nil
}
