package config

import (
	"os"
	"path/filepath"
)

// getDataDir determines the data directory path from environment or default.
// Priority: MEDIACONVERT_DATA_DIR environment variable > "./data" default
func getDataDir() string {
	if dir := os.Getenv("MEDIACONVERT_DATA_DIR"); dir != "" {
		return dir
	}
	return "./data"
}

// GetDataDir returns the current data directory path.
// The environment is read on every call so tests can point it at a temp dir.
func GetDataDir() string {
	return getDataDir()
}

// GetJobsDBPath returns the full path to the Pebble job database.
// Path: {DATA_DIR}/jobs.db
func GetJobsDBPath() string {
	return filepath.Join(GetDataDir(), "jobs.db")
}

// GetScratchDir returns the directory used for transcode input/output files.
// Path: {DATA_DIR}/scratch
func GetScratchDir() string {
	return filepath.Join(GetDataDir(), "scratch")
}

// GetLocalArtifactDir returns the base directory for the local artifact backend.
// Configurable via MEDIACONVERT_SERVE_DIR for server administrators.
// Defaults to "./serve" relative to the executable.
func GetLocalArtifactDir() string {
	if dir := os.Getenv("MEDIACONVERT_SERVE_DIR"); dir != "" {
		return dir
	}
	return "./serve"
}
