// Package config provides configuration helpers for go-planar commands.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Defaults used when neither a flag nor an environment variable is set.
const (
	DefaultPort     = 8080
	DefaultSource   = "0"
	DefaultLogLevel = "info"
	DefaultInterval time.Duration = 0
)

// Environment variable names.
const (
	EnvReference = "PLANAR_REFERENCE"
	EnvSource    = "PLANAR_SOURCE"
	EnvInterval  = "PLANAR_INTERVAL"
	EnvPort      = "PORT"
	EnvLogLevel  = "LOG_LEVEL"
)

// String returns the value of the env var key, or def if unset or empty.
func String(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Int returns the env var key parsed as an integer, or def if unset.
// A malformed value is an error rather than a silent fallback.
func Int(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

// Duration returns the env var key parsed with time.ParseDuration, or def.
func Duration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}

// ReferencePath returns the reference image path from PLANAR_REFERENCE,
// falling back to def.
func ReferencePath(def string) string {
	return String(EnvReference, def)
}

// ReferencePathRequired returns the reference path or exits with usage
// help when none is configured.
func ReferencePathRequired(flagValue string) string {
	if p := ReferencePath(flagValue); p != "" {
		return p
	}
	fmt.Fprintln(os.Stderr, "Error: a reference image is required")
	fmt.Fprintf(os.Stderr, "Usage: %s -ref target.png  (or %s=target.png)\n", filepath.Base(os.Args[0]), EnvReference)
	os.Exit(1)
	return ""
}

// Source returns the frame source URI from PLANAR_SOURCE, falling back
// to def.
func Source(def string) string {
	return String(EnvSource, def)
}

// LogLevel returns LOG_LEVEL or def.
func LogLevel(def string) string {
	return String(EnvLogLevel, def)
}

// ListenAddr formats a fiber listen address for port.
func ListenAddr(port int) string {
	return fmt.Sprintf(":%d", port)
}
