package allowlist

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"sysproxy/backend/domain"
	"sysproxy/backend/events"
	"sysproxy/backend/service/shared"
	"sysproxy/backend/tasks"
)

// MinPayloadBytes 小于该长度的响应视为无效（空内容或错误页）
const MinPayloadBytes = 100

// wildcardMarker 合法白名单必然包含通配符域名
const wildcardMarker = "*."

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads the remote allowlist and hands it to the Store.
type Fetcher struct {
	store  *Store
	client HTTPDoer
	bus    *events.Bus

	// spawn 启动后台任务，测试里可替换为同步执行
	spawn func(name string, fn func())
}

func NewFetcher(store *Store, client HTTPDoer, bus *events.Bus) *Fetcher {
	if client == nil {
		client = shared.HTTPClient
	}
	return &Fetcher{store: store, client: client, bus: bus, spawn: tasks.Go}
}

// RefreshAsync starts a detached download of url. The result only becomes
// visible to later readers of the cache file.
func (f *Fetcher) RefreshAsync(url string) {
	f.spawn("allowlist refresh", func() {
		if err := f.Refresh(context.Background(), url); err != nil {
			log.Printf("[Allowlist] background refresh failed: %v", err)
		}
	})
}

// Refresh downloads url once, validates and decodes the payload, and saves it.
// Nothing is written unless the payload is accepted.
func (f *Fetcher) Refresh(ctx context.Context, url string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return fmt.Errorf("%w: remote allowlist url is empty", domain.ErrConfiguration)
	}
	log.Printf("[Allowlist] downloading %s", url)

	body, err := f.get(ctx, url)
	if err != nil {
		return err
	}
	if len(body) < MinPayloadBytes {
		return fmt.Errorf("%w: payload from %s too short (%d bytes)", domain.ErrFetch, url, len(body))
	}

	text, err := decodePayload(body)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrFetch, url, err)
	}

	if err := f.store.Save(text); err != nil {
		return err
	}
	path := f.store.Path()
	f.store.SyncTimestamp(path, text)

	updatedAt, _ := ParseUpdateDate(text)
	f.bus.Publish(events.AllowlistEvent{Path: path, Bytes: len(text), UpdatedAt: updatedAt})
	log.Printf("[Allowlist] refreshed from %s (%d bytes)", url, len(text))
	return nil
}

func (f *Fetcher) get(ctx context.Context, url string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrFetch, err)
	}
	req.Header.Set("User-Agent", shared.UserAgent())
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: GET %s: %v", domain.ErrFetch, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: GET %s: unexpected status %s", domain.ErrFetch, url, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, shared.MaxDownloadSize+1))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", domain.ErrFetch, err)
	}
	if len(data) > shared.MaxDownloadSize {
		return "", fmt.Errorf("%w: payload exceeds %d bytes", domain.ErrFetch, shared.MaxDownloadSize)
	}
	return string(data), nil
}

// decodePayload accepts raw allowlist text or its base64 encoding.
func decodePayload(body string) (string, error) {
	if strings.Contains(body, wildcardMarker) {
		return body, nil
	}
	decoded, err := decodeBase64(body)
	if err != nil {
		return "", fmt.Errorf("payload is neither an allowlist nor base64: %v", err)
	}
	if !strings.Contains(decoded, wildcardMarker) {
		return "", errors.New("decoded payload is not an allowlist")
	}
	return decoded, nil
}

// decodeBase64 ignores whitespace and accepts padded/unpadded, std/URL alphabets.
func decodeBase64(s string) (string, error) {
	compact := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)

	var lastErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		out, err := enc.DecodeString(compact)
		if err == nil {
			return string(out), nil
		}
		lastErr = err
	}
	return "", lastErr
}

