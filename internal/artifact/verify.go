package artifact

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ulikunitz/xz"
)

// Verify decodes the whole xz stream at path and discards the output. It
// fails on a bad header, a checksum mismatch or a truncated stream.
func Verify(path string) error {
	return VerifyContext(context.Background(), path)
}

// VerifyContext is Verify with cancellation.
func VerifyContext(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	r, err := xz.NewReader(bufio.NewReader(f))
	if err != nil {
		return fmt.Errorf("invalid xz header: %w", err)
	}
	if _, err := io.Copy(io.Discard, contextReader{ctx: ctx, r: r}); err != nil {
		return fmt.Errorf("invalid xz stream: %w", err)
	}
	return nil
}

// contextReader fails reads once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
