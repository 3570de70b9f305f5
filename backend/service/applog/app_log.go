// Package applog serves incremental reads of the application log file.
package applog

import (
	"errors"
	"io"
	"os"
	"time"
)

// MaxChunkBytes 单次返回的最大字节数
const MaxChunkBytes int64 = 512 * 1024

// Chunk is one incremental read. Pass End back as `since` to continue.
// Lost is set when the file shrank (rotated) since the previous offset.
type Chunk struct {
	Path      string `json:"path,omitempty"`
	StartedAt string `json:"startedAt,omitempty"`

	From int64  `json:"from"`
	To   int64  `json:"to"`
	End  int64  `json:"end"`
	Lost bool   `json:"lost"`
	Text string `json:"text"`

	Error string `json:"error,omitempty"`
}

// Since reads at most MaxChunkBytes of path starting at offset since.
func Since(path string, since int64, startedAt time.Time) Chunk {
	out := Chunk{Path: path}
	if !startedAt.IsZero() {
		out.StartedAt = startedAt.Format(time.RFC3339Nano)
	}
	if path == "" {
		return out
	}
	if err := out.read(since, MaxChunkBytes); err != nil {
		out.Error = err.Error()
	}
	return out
}

func (c *Chunk) read(since, maxBytes int64) error {
	if maxBytes <= 0 {
		return errors.New("maxBytes must be > 0")
	}
	if since < 0 {
		since = 0
	}

	f, err := os.Open(c.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}
	c.End = st.Size()
	c.From = since
	if c.From > c.End {
		c.From, c.Lost = 0, true
	}
	c.To = c.From
	if c.From == c.End {
		return nil
	}
	if _, err := f.Seek(c.From, io.SeekStart); err != nil {
		return err
	}

	data, err := io.ReadAll(io.LimitReader(f, min(c.End-c.From, maxBytes)))
	if err != nil {
		return err
	}
	c.To = c.From + int64(len(data))
	c.Text = string(data)
	return nil
}
