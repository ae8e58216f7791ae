package cloudinit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/kiln/internal/executor"
	"github.com/jbweber/kiln/internal/logging"
	"github.com/jbweber/kiln/internal/naming"
)

// ErrPackagingFailed is returned when the seed volume could not be produced.
var ErrPackagingFailed = errors.New("provisioning packaging failed")

// DefaultTool is the external seed authoring tool.
const DefaultTool = "cloud-localds"

// Artifacts are the files produced for one reconciliation.
//
// Dir and the documents inside it are temporary and removed by Cleanup.
// ISO is referenced by the running hypervisor and outlives the call; it is
// removed together with the disk image.
type Artifacts struct {
	Dir      string
	UserData string
	MetaData string
	ISO      string
}

// Cleanup removes the temporary directory. It is safe on a nil receiver.
func (a *Artifacts) Cleanup() error {
	if a == nil || a.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(a.Dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", a.Dir, err)
	}
	return nil
}

// Packager turns a provisioning document into a seed volume.
type Packager struct {
	runner     executor.Runner
	tool       string
	hasCommand func(string) bool
	tempRoot   string
	log        logrus.FieldLogger
}

// NewPackager returns a Packager using cloud-localds when it is installed and
// the in-process ISO writer otherwise.
func NewPackager(runner executor.Runner, log logrus.FieldLogger) *Packager {
	return &Packager{
		runner:     runner,
		tool:       DefaultTool,
		hasCommand: executor.HasCommand,
		log:        logging.WithComponent(log, "cloudinit"),
	}
}

// Package writes the seed volume for vmName beside imagePath. It returns nil
// when doc is empty. On success the caller owns the returned artifacts and
// must call Cleanup; on failure the temporary directory and any partial
// volume have already been removed.
func (p *Packager) Package(ctx context.Context, vmName, imagePath string, doc Document) (_ *Artifacts, err error) {
	if len(doc) == 0 {
		return nil, nil
	}

	userData, err := GenerateUserData(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPackagingFailed, err)
	}
	metaData, err := GenerateMetaData(vmName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPackagingFailed, err)
	}

	dir, err := os.MkdirTemp(p.tempRoot, "kiln-seed-")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create temp dir: %w", ErrPackagingFailed, err)
	}
	art := &Artifacts{
		Dir:      dir,
		UserData: filepath.Join(dir, "user-data"),
		MetaData: filepath.Join(dir, "meta-data"),
		ISO:      naming.SeedISOPath(imagePath, vmName),
	}
	defer func() {
		if err == nil {
			return
		}
		if cerr := art.Cleanup(); cerr != nil {
			p.log.Warnf("failed to clean up seed working dir: %v", cerr)
		}
		if rerr := os.Remove(art.ISO); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			p.log.Warnf("failed to remove partial seed volume %s: %v", art.ISO, rerr)
		}
	}()

	if err = os.WriteFile(art.UserData, []byte(userData), 0o600); err != nil {
		return nil, fmt.Errorf("%w: failed to write user-data: %w", ErrPackagingFailed, err)
	}
	if err = os.WriteFile(art.MetaData, []byte(metaData), 0o600); err != nil {
		return nil, fmt.Errorf("%w: failed to write meta-data: %w", ErrPackagingFailed, err)
	}

	if p.hasCommand(p.tool) {
		p.log.Debugf("authoring %s with %s", art.ISO, p.tool)
		if _, err = p.runner.Run(ctx, p.tool, art.ISO, art.UserData, art.MetaData); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPackagingFailed, err)
		}
		return art, nil
	}

	p.log.Debugf("%s not found, building %s in-process", p.tool, art.ISO)
	var iso []byte
	if iso, err = GenerateISO(userData, metaData); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPackagingFailed, err)
	}
	if err = os.WriteFile(art.ISO, iso, 0o644); err != nil {
		return nil, fmt.Errorf("%w: failed to write %s: %w", ErrPackagingFailed, art.ISO, err)
	}
	return art, nil
}
