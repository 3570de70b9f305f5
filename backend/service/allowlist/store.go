package allowlist

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"sysproxy/backend/domain"
	"sysproxy/backend/service/shared"
)

// CacheFileName 下载后的白名单缓存文件名，位于 userBasePath 下
const CacheFileName = "domestic-domain-allowlist.txt"

//go:embed builtin/domestic-domain-allowlist.txt
var builtinFS embed.FS

const builtinEmbedPath = "builtin/domestic-domain-allowlist.txt"

// Store reads and writes the cached allowlist file.
type Store struct {
	dir string

	// builtinPath 非空时代替内置（embed）白名单；相对路径基于可执行文件目录
	builtinPath string
}

func NewStore(userBasePath, builtinPath string) *Store {
	return &Store{
		dir:         strings.TrimSpace(userBasePath),
		builtinPath: shared.ResolveShippedPath(builtinPath),
	}
}

// Path is the cache file location.
func (s *Store) Path() string {
	return filepath.Join(s.dir, CacheFileName)
}

// Load reads path. A missing file returns an error matching domain.ErrNotFound.
func (s *Store) Load(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", path, domain.ErrNotFound)
		}
		return "", fmt.Errorf("%w: read %s: %v", domain.ErrExclusionResolution, path, err)
	}
	return string(data), nil
}

// LoadBuiltin returns the default allowlist shipped with the program.
func (s *Store) LoadBuiltin() (text string, origin string, err error) {
	if s.builtinPath != "" {
		data, err := os.ReadFile(s.builtinPath)
		if err != nil {
			return "", s.builtinPath, fmt.Errorf("%w: read built-in %s: %v", domain.ErrExclusionResolution, s.builtinPath, err)
		}
		return string(data), s.builtinPath, nil
	}
	data, err := builtinFS.ReadFile(builtinEmbedPath)
	if err != nil {
		return "", "embedded", fmt.Errorf("%w: read embedded allowlist: %v", domain.ErrExclusionResolution, err)
	}
	return string(data), "embedded", nil
}

// Save writes text to the cache file with LF line endings.
// Concurrent writers are not coordinated; the last rename wins.
func (s *Store) Save(text string) error {
	path := s.Path()
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", domain.ErrPersistence, s.dir, err)
	}

	tmp, err := os.CreateTemp(s.dir, CacheFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", domain.ErrPersistence, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(NormalizeLineEndings(text)); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: write %s: %v", domain.ErrPersistence, tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: close %s: %v", domain.ErrPersistence, tmpPath, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		log.Printf("[Allowlist] chmod %s failed: %v", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: rename to %s: %v", domain.ErrPersistence, path, err)
	}

	log.Printf("[Allowlist] saved %s", path)
	return nil
}

// SyncTimestamp sets the access and modification time of path to the
// document's "Update Date" marker. Every failure is logged and swallowed.
func (s *Store) SyncTimestamp(path, text string) {
	updatedAt, ok := ParseUpdateDate(text)
	if !ok {
		return
	}
	if _, err := os.Stat(path); err != nil {
		log.Printf("[Allowlist] stat %s failed, mtime not updated: %v", path, err)
		return
	}
	if err := os.Chtimes(path, updatedAt, updatedAt); err != nil {
		log.Printf("[Allowlist] chtimes %s failed: %v", path, err)
		return
	}
	log.Printf("[Allowlist] %s mtime set to %s", path, updatedAt.Format("2006-01-02 15:04:05"))
}

// Document resolves the effective allowlist: customPath if set, else the
// cache file, else the built-in default.
func (s *Store) Document(customPath string) (domain.AllowlistDocument, error) {
	doc := domain.AllowlistDocument{}

	if customPath = strings.TrimSpace(customPath); customPath != "" {
		log.Printf("[Allowlist] reading custom allowlist: %s", customPath)
		text, err := s.Load(customPath)
		if err != nil {
			return doc, fmt.Errorf("%w: %v", domain.ErrExclusionResolution, err)
		}
		doc.Source, doc.Path, doc.Text = domain.AllowlistCustom, customPath, text
	} else if text, err := s.Load(s.Path()); err == nil {
		log.Printf("[Allowlist] reading cached allowlist: %s", s.Path())
		doc.Source, doc.Path, doc.Text = domain.AllowlistCache, s.Path(), text
	} else if errors.Is(err, domain.ErrNotFound) {
		text, origin, err := s.LoadBuiltin()
		if err != nil {
			return doc, err
		}
		log.Printf("[Allowlist] reading built-in allowlist: %s", origin)
		doc.Source, doc.Path, doc.Text = domain.AllowlistBuiltin, origin, text
	} else {
		return doc, err
	}

	if t, ok := ParseUpdateDate(doc.Text); ok {
		doc.UpdatedAt = t
	}
	return doc, nil
}
