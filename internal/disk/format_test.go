package disk

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name       string
		data       []byte
		wantFormat Format
	}{
		{
			name:       "qcow2 magic",
			data:       append([]byte{0x51, 0x46, 0x49, 0xfb, 0x00, 0x00, 0x00, 0x03}, make([]byte, 504)...),
			wantFormat: FormatQCOW2,
		},
		{
			name:       "qcow2 magic in a short file",
			data:       []byte{0x51, 0x46, 0x49, 0xfb},
			wantFormat: FormatQCOW2,
		},
		{
			name: "bootable raw",
			data: func() []byte {
				d := make([]byte, 4096)
				d[510], d[511] = 0x55, 0xaa
				return d
			}(),
			wantFormat: FormatRaw,
		},
		{
			name:       "zeros",
			data:       make([]byte, 512),
			wantFormat: FormatUnknown,
		},
		{
			name:       "tiny file",
			data:       []byte{0x01},
			wantFormat: FormatUnknown,
		},
		{
			name:       "empty file",
			data:       nil,
			wantFormat: FormatUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "image")
			if err := os.WriteFile(path, tt.data, 0o644); err != nil {
				t.Fatal(err)
			}

			got, err := DetectFormat(path)
			if err != nil {
				t.Fatalf("DetectFormat() unexpected error: %v", err)
			}
			if got != tt.wantFormat {
				t.Errorf("DetectFormat() = %v, want %v", got, tt.wantFormat)
			}
		})
	}
}

func TestDetectFormat_Missing(t *testing.T) {
	if _, err := DetectFormat(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}
