package disk

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Format is a disk image format.
type Format string

const (
	FormatQCOW2   Format = "qcow2"
	FormatRaw     Format = "raw"
	FormatUnknown Format = "unknown"
)

var (
	// qcow2Magic is "QFI" followed by 0xfb at offset 0.
	// Reference: https://www.qemu.org/docs/master/interop/qcow2.html
	qcow2Magic = []byte{0x51, 0x46, 0x49, 0xfb}

	// mbrSignature is the boot sector signature at offset 510. GPT disks carry
	// it too in their protective MBR.
	mbrSignature = []byte{0x55, 0xaa}
)

// DetectFormat sniffs the image format from magic bytes. Files that are
// neither qcow2 nor a bootable raw disk report FormatUnknown without error;
// only I/O failures are errors.
func DetectFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, fmt.Errorf("failed to open image: %w", err)
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, 512)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return FormatUnknown, fmt.Errorf("failed to read image header: %w", err)
	}
	header = header[:n]

	if len(header) >= len(qcow2Magic) && bytes.Equal(header[:len(qcow2Magic)], qcow2Magic) {
		return FormatQCOW2, nil
	}
	if len(header) == 512 && bytes.Equal(header[510:], mbrSignature) {
		return FormatRaw, nil
	}
	return FormatUnknown, nil
}
