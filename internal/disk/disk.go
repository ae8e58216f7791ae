// Package disk ensures that a VM's backing qcow2 image exists.
//
// Images are created with qemu-img through the executor so that creation
// failures carry the tool's stderr. The provisioner only ever creates or
// removes the single file it is pointed at; base-image management is out of
// scope.
package disk

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jbweber/kiln/internal/executor"
)

// ErrImageCreationFailed is returned when qemu-img could not create the image.
var ErrImageCreationFailed = errors.New("image creation failed")

const (
	// DefaultTool is the image creation tool.
	DefaultTool = "qemu-img"

	// DirPermissions are the permissions for image directories created on demand.
	DirPermissions = 0o755
)

// Provisioner creates and removes disk images.
type Provisioner struct {
	runner executor.Runner
	tool   string
}

// NewProvisioner returns a Provisioner that shells out to qemu-img.
func NewProvisioner(runner executor.Runner) *Provisioner {
	return &Provisioner{runner: runner, tool: DefaultTool}
}

// Exists reports whether an image file is present at path.
func (p *Provisioner) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Ensure creates a qcow2 image of sizeGB at path unless one already exists.
// It reports whether an image was created.
func (p *Provisioner) Ensure(ctx context.Context, path string, sizeGB int) (bool, error) {
	if p.Exists(path) {
		return false, nil
	}
	if sizeGB <= 0 {
		return false, fmt.Errorf("%w: size must be > 0, got %d", ErrImageCreationFailed, sizeGB)
	}

	if err := os.MkdirAll(filepath.Dir(path), DirPermissions); err != nil {
		return false, fmt.Errorf("%w: failed to create directory for %s: %w", ErrImageCreationFailed, path, err)
	}

	_, err := p.runner.Run(ctx, p.tool, "create", "-f", "qcow2", path, fmt.Sprintf("%dG", sizeGB))
	if err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrImageCreationFailed, path, err)
	}
	return true, nil
}

// Remove deletes the file at path. It reports whether a file was removed;
// a missing file is not an error.
func (p *Provisioner) Remove(path string) (bool, error) {
	err := os.Remove(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to remove %s: %w", path, err)
}
