package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths is the single source of truth for every file the engine persists.
// All paths are resolved relative to the executable directory, never the
// current working directory.
type Paths struct {
	ExecutableDir string
	DataDir       string
	LogsDir       string

	// Engine-owned files under DataDir.
	CapabilityStoreFile string // encrypted capability set
	IntegrityFile       string // tamper-detector MAC over the store file
	AdminTokenFile      string // encrypted admin token blob
	RedeemedLedgerFile  string // consumed activation-code hashes
	AuditLogFile        string // append-only audit entries

	// ConsentFile is owned by the save-modification workflow, not this
	// engine. Listed here so path resolution stays in one place.
	ConsentFile string
}

// ResolvePaths builds the path set for the configured data directory.
func ResolvePaths(cfg *Config) (*Paths, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable symlinks: %w", err)
	}
	exeDir := filepath.Dir(exe)

	dataDir := cfg.Paths.DataDir
	if !filepath.IsAbs(dataDir) {
		dataDir = filepath.Join(exeDir, dataDir)
	}
	logsDir := cfg.Paths.LogsDir
	if !filepath.IsAbs(logsDir) {
		logsDir = filepath.Join(exeDir, logsDir)
	}

	return NewPaths(exeDir, dataDir, logsDir), nil
}

// NewPaths builds a path set rooted at the given directories. Split out of
// ResolvePaths so tests can point the engine at a temp directory.
func NewPaths(exeDir, dataDir, logsDir string) *Paths {
	return &Paths{
		ExecutableDir:       exeDir,
		DataDir:             dataDir,
		LogsDir:             logsDir,
		CapabilityStoreFile: filepath.Join(dataDir, "capabilities.dat"),
		IntegrityFile:       filepath.Join(dataDir, "integrity.dat"),
		AdminTokenFile:      filepath.Join(dataDir, "admin.token"),
		RedeemedLedgerFile:  filepath.Join(dataDir, "redeemed.json"),
		AuditLogFile:        filepath.Join(dataDir, "audit.log"),
		ConsentFile:         filepath.Join(dataDir, "consent.json"),
	}
}

// EnsureDirectories creates the data and logs directories if missing. The
// data directory is restricted to the owning user.
func (p *Paths) EnsureDirectories() error {
	if err := os.MkdirAll(p.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data dir %s: %w", p.DataDir, err)
	}
	if err := os.MkdirAll(p.LogsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs dir %s: %w", p.LogsDir, err)
	}
	return nil
}

// configFilePath returns the expected location of the optional YAML config
// file, next to the executable.
func configFilePath() string {
	exe, err := os.Executable()
	if err != nil {
		return "arca-gate.yaml"
	}
	return filepath.Join(filepath.Dir(exe), "arca-gate.yaml")
}
