package shared

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const rotatedStampLayout = "20060102-150405"

// RotateLogFile moves a non-empty log aside as <stem>-<timestamp><ext> and
// removes rotated siblings older than retain (retain <= 0 keeps them all).
//
//	/path/app.log -> /path/app-20260116-235959.log
func RotateLogFile(path string, retain time.Duration) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(filepath.Base(path), ext)
	if stem == "" {
		return nil
	}

	if err := moveAside(path, stem, ext); err != nil {
		return err
	}
	if retain <= 0 {
		return nil
	}
	return pruneRotated(filepath.Dir(path), stem, ext, time.Now().Add(-retain))
}

func moveAside(path, stem, ext string) error {
	st, err := os.Stat(path)
	if err != nil || st.Size() == 0 {
		return nil
	}
	dir := filepath.Dir(path)
	stamp := time.Now().Format(rotatedStampLayout)

	target := filepath.Join(dir, stem+"-"+stamp+ext)
	for i := 1; ; i++ {
		_, err := os.Stat(target)
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		if err != nil {
			return err
		}
		target = filepath.Join(dir, fmt.Sprintf("%s-%s-%d%s", stem, stamp, i, ext))
	}
	return os.Rename(path, target)
}

func pruneRotated(dir, stem, ext string, cutoff time.Time) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, stem+"-") || !strings.HasSuffix(name, ext) {
			continue
		}
		if info, err := e.Info(); err == nil && info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, name))
		}
	}
	return nil
}

// SetupAppLog rotates path, then tees the standard logger to stderr and the file.
// The returned func closes the file; it is nil when logging to the file failed.
func SetupAppLog(path string) func() {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Printf("[AppLog] create log dir failed: %v", err)
		return nil
	}
	if err := RotateLogFile(path, AppLogRetention); err != nil {
		log.Printf("[AppLog] rotate %s failed: %v", path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		log.Printf("[AppLog] open log file failed (%s): %v", path, err)
		return nil
	}

	_, _ = fmt.Fprintf(f, "----- sysproxy start %s pid=%d -----\n", time.Now().Format(time.RFC3339Nano), os.Getpid())
	log.SetOutput(io.MultiWriter(os.Stderr, f))
	log.Printf("[AppLog] writing to %s", path)
	return func() {
		log.SetOutput(os.Stderr)
		_ = f.Close()
	}
}
