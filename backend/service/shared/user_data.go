package shared

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	// EnvUserDataDir overrides the per-user data directory.
	EnvUserDataDir = "SYSPROXY_USER_DATA_DIR"

	appDirName = "sysproxy"
)

// UserDataRoot returns the per-user data root directory.
//
// Default (no EnvUserDataDir):
// - Linux: ~/.config/sysproxy
// - macOS: ~/Library/Application Support/sysproxy
// - Windows: %APPDATA%\sysproxy
func UserDataRoot() string {
	if configured := strings.TrimSpace(os.Getenv(EnvUserDataDir)); configured != "" {
		return absPath(configured)
	}

	base, err := os.UserConfigDir()
	if err == nil && strings.TrimSpace(base) != "" {
		return absPath(filepath.Join(base, appDirName))
	}

	home, err := os.UserHomeDir()
	if err == nil && strings.TrimSpace(home) != "" {
		return absPath(filepath.Join(home, "."+appDirName))
	}

	if tmp := strings.TrimSpace(os.TempDir()); tmp != "" {
		return absPath(filepath.Join(tmp, appDirName))
	}

	return ""
}

// ExecutableDir is the directory of the running binary, used to locate files
// shipped next to it (the built-in allowlist, sysproxy.exe).
func ExecutableDir() string {
	exePath, err := os.Executable()
	if err == nil {
		if realPath, err := filepath.EvalSymlinks(exePath); err == nil {
			exePath = realPath
		}
		return filepath.Dir(exePath)
	}
	cwd, _ := os.Getwd()
	return cwd
}

// ResolveShippedPath joins a relative path onto ExecutableDir; absolute paths are returned as is.
func ResolveShippedPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(ExecutableDir(), p)
}

func absPath(path string) string {
	if strings.TrimSpace(path) == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
