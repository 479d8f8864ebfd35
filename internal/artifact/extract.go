package artifact

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/ulikunitz/xz"

	"github.com/jbweber/kiln/internal/progress"
	"github.com/jbweber/kiln/internal/storage"
)

// Extractor decompresses cached artifacts into working images.
type Extractor struct {
	log      logr.Logger
	progress progress.Reporter
}

// NewExtractor creates an extractor. A nil reporter disables progress.
func NewExtractor(log logr.Logger, rep progress.Reporter) *Extractor {
	if rep == nil {
		rep = progress.Nop{}
	}
	return &Extractor{log: log, progress: rep}
}

// Extract streams the xz file at cached into target and checks that the
// result is a disk image. On any failure target is removed and an
// *ExtractionError returned.
func (e *Extractor) Extract(ctx context.Context, cached, target string) (storage.VolumeFormat, error) {
	e.log.V(1).Info("extracting image", "source", cached, "target", target)

	n, err := e.decompress(ctx, cached, target)
	if err != nil {
		if rmErr := os.Remove(target); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			e.log.Error(rmErr, "failed to remove partial image", "path", target)
		}
		return "", &ExtractionError{Path: cached, Err: err}
	}

	format, err := storage.DetectImageFormat(target)
	if err != nil {
		_ = os.Remove(target)
		return "", &ExtractionError{Path: cached, Err: fmt.Errorf("decompressed data is not a disk image: %w", err)}
	}

	e.log.Info("image extracted", "path", target, "format", format, "bytes", n)
	return format, nil
}

func (e *Extractor) decompress(ctx context.Context, cached, target string) (n int64, err error) {
	src, err := os.Open(cached)
	if err != nil {
		return 0, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer func() { _ = src.Close() }()

	r, err := xz.NewReader(bufio.NewReader(src))
	if err != nil {
		return 0, fmt.Errorf("invalid xz header: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create target directory: %w", err)
	}
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to create target: %w", err)
	}
	defer func() {
		if cerr := dst.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close target: %w", cerr)
		}
	}()

	e.progress.Start("Extracting "+filepath.Base(target), 0)
	defer e.progress.Stop()

	w := io.MultiWriter(dst, progress.Writer(e.progress))
	n, err = io.Copy(w, contextReader{ctx: ctx, r: r})
	if err != nil {
		return n, fmt.Errorf("decompression failed after %d bytes: %w", n, err)
	}
	if err := dst.Sync(); err != nil {
		return n, fmt.Errorf("failed to sync target: %w", err)
	}
	return n, nil
}
