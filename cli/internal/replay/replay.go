// Package replay exports stored raw payloads to a JSON file for replaying
// through the system later.
package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileTimeLayout names export files after the moment they were written.
const FileTimeLayout = "20060102-150405"

// Source yields raw payloads with unix_ts in [from, to], oldest first.
type Source interface {
	RawBetween(ctx context.Context, from, to int64) ([]json.RawMessage, error)
}

// Export writes the payloads in [from, to] as a JSON array to
// dir/YYYYMMDD-HHMMSS.json and returns the path and record count.
func Export(ctx context.Context, src Source, from, to int64, dir string, now time.Time) (string, int, error) {
	if from > to {
		return "", 0, fmt.Errorf("invalid range: from %d is after to %d", from, to)
	}

	rows, err := src.RawBetween(ctx, from, to)
	if err != nil {
		return "", 0, fmt.Errorf("read raw data points: %w", err)
	}
	if rows == nil {
		rows = []json.RawMessage{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	if err := enc.Encode(rows); err != nil {
		return "", 0, fmt.Errorf("encode replay: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create replay dir: %w", err)
	}
	path := filepath.Join(dir, now.Format(FileTimeLayout)+".json")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", 0, fmt.Errorf("write replay: %w", err)
	}
	return path, len(rows), nil
}
