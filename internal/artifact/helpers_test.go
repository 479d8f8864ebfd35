package artifact

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/jbweber/kiln/internal/release"
)

// qcow2Payload returns bytes that look like a small qcow2 image.
func qcow2Payload(size int) []byte {
	data := make([]byte, size)
	copy(data, []byte{0x51, 0x46, 0x49, 0xfb, 0x00, 0x00, 0x00, 0x03})
	for i := 8; i < size; i++ {
		data[i] = byte(i % 251)
	}
	return data
}

func compress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func testDescriptor(t *testing.T, url string) release.Descriptor {
	t.Helper()
	dir := t.TempDir()
	return release.Descriptor{
		Channel:   release.ChannelStable,
		Version:   "17.0",
		URL:       url + "/haos_ova-17.0.qcow2.xz",
		CachePath: filepath.Join(dir, "cache", "haos_ova-17.0.qcow2.xz"),
	}
}
