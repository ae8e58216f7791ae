package cloudinit

import (
	"bytes"
	"fmt"

	"github.com/kdomanski/iso9660"
)

// VolumeLabel is the ISO volume identifier the NoCloud datasource looks for.
const VolumeLabel = "CIDATA"

// GenerateISO builds a NoCloud seed image in memory holding user-data and
// meta-data in its root directory. It is used when no external authoring
// tool is installed.
func GenerateISO(userData, metaData string) ([]byte, error) {
	writer, err := iso9660.NewWriter()
	if err != nil {
		return nil, fmt.Errorf("failed to create ISO writer: %w", err)
	}
	defer func() {
		_ = writer.Cleanup()
	}()

	if err := writer.AddFile(bytes.NewReader([]byte(userData)), "user-data"); err != nil {
		return nil, fmt.Errorf("failed to add user-data: %w", err)
	}

	if err := writer.AddFile(bytes.NewReader([]byte(metaData)), "meta-data"); err != nil {
		return nil, fmt.Errorf("failed to add meta-data: %w", err)
	}

	var buf bytes.Buffer
	if err := writer.WriteTo(&buf, VolumeLabel); err != nil {
		return nil, fmt.Errorf("failed to write ISO image: %w", err)
	}

	return buf.Bytes(), nil
}
