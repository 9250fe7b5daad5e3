// SPDX-License-Identifier: MIT

package jobs

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"

	"github.com/dvrsn/listpub/internal/log"
	"github.com/google/renameio/v2"
)

// publish writes the rendered artifact atomically and durably: renameio
// creates a temp file in the target directory, fsyncs it and renames it over
// the old file. Readers never observe a partially written artifact and a
// failed render leaves the previous file in place.
func publish(ctx context.Context, path string, render func(io.Writer) error) error {
	logger := log.FromContext(ctx)

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			logger.Debug().Err(err).Str("path", path).Msg("cleanup pending file")
		}
	}()

	if err := render(pending); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace: %w", err)
	}
	return nil
}

// publishBytes publishes pre-rendered content.
func publishBytes(ctx context.Context, path string, data []byte) error {
	return publish(ctx, path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// gzipBytes compresses data without a modification time in the header, so
// identical input always produces identical output.
func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
