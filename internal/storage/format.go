package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	// qcow2Magic is "QFI" followed by 0xfb at offset 0.
	// Reference: https://www.qemu.org/docs/master/interop/qcow2.html
	qcow2Magic = []byte{0x51, 0x46, 0x49, 0xfb}

	// bootSignature is 0x55 0xaa at offset 510. GPT disks carry it in their
	// protective MBR too.
	bootSignature = []byte{0x55, 0xaa}
)

const bootSignatureOffset = 510

// ErrUnknownImageFormat is returned for data that is neither qcow2 nor a
// bootable raw disk.
var ErrUnknownImageFormat = errors.New("not a qcow2 image and no boot sector signature at offset 510")

// DetectImageFormat reports whether the file at path is a qcow2 image or a
// bootable raw disk.
func DetectImageFormat(path string) (VolumeFormat, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open image: %w", err)
	}
	defer func() { _ = f.Close() }()

	return DetectFormat(f)
}

// DetectFormat inspects the magic bytes readable from r.
func DetectFormat(r io.ReaderAt) (VolumeFormat, error) {
	head := make([]byte, len(qcow2Magic))
	if _, err := r.ReadAt(head, 0); err != nil {
		return "", fmt.Errorf("image shorter than %d bytes: %w", len(head), err)
	}
	if bytes.Equal(head, qcow2Magic) {
		return VolumeFormatQCOW2, nil
	}

	sig := make([]byte, len(bootSignature))
	if _, err := r.ReadAt(sig, bootSignatureOffset); err != nil {
		return "", fmt.Errorf("image shorter than one sector: %w", err)
	}
	if bytes.Equal(sig, bootSignature) {
		return VolumeFormatRaw, nil
	}

	return "", ErrUnknownImageFormat
}
