package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnv loads dotenv files into the process environment. Missing paths
// are skipped and variables already set in the environment win. Every
// file is attempted; parse failures are joined into the returned error.
func LoadEnv(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if fi, err := os.Stat(p); err != nil || fi.IsDir() {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			errs = append(errs, fmt.Errorf("load %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// LoadDefaultEnv loads env from CLINOTE_ENV, ~/.clinote.env, and ./.env
// (in that order), when present.
func LoadDefaultEnv() error {
	paths := []string{strings.TrimSpace(os.Getenv("CLINOTE_ENV"))}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".clinote.env"))
	}
	return LoadEnv(append(paths, ".env")...)
}
