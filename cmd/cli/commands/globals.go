package commands

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"syscall"

	"golang.org/x/term"

	"github.com/moltbunker/solverbond/internal/config"
)

// Global CLI flags
var (
	// ConfigPath is the daemon config file the CLI reads defaults from
	ConfigPath string
)

// GetConfigPath returns the config path from flag or default.
func GetConfigPath() string {
	if ConfigPath != "" {
		return ConfigPath
	}
	return config.DefaultConfigPath()
}

// GetKeystoreDir returns the keystore directory from config or default.
func GetKeystoreDir() string {
	if cfg := loadConfigQuiet(); cfg != nil && cfg.Daemon.KeystoreDir != "" {
		return cfg.Daemon.KeystoreDir
	}
	return config.DefaultConfig().Daemon.KeystoreDir
}

// loadConfigQuiet loads the config, returning nil on error.
func loadConfigQuiet() *config.Config {
	cfg, err := config.Load(GetConfigPath())
	if err != nil {
		return nil
	}
	return cfg
}

// readPassword prompts on stderr and reads a line from stdin with echo disabled.
func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(password), nil
}

// Version information (set at build time)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// GetVersion returns the version string
func GetVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return "dev"
}

// GetCommit returns the git commit
func GetCommit() string {
	if Commit != "unknown" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				if len(setting.Value) > 8 {
					return setting.Value[:8]
				}
				return setting.Value
			}
		}
	}
	return "unknown"
}

// GetGoVersion returns the Go version
func GetGoVersion() string {
	return runtime.Version()
}
