package envelope

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/modhost/internal/archive"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/manifest"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/shared/errdefs"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/shared/paths"
)

// Result describes an installed package.
type Result struct {
	Name        string
	Path        string
	Version     string
	Digest      string
	InstalledAt time.Time
}

// Installer verifies downloaded envelopes and swaps their contents into the
// installation root.
type Installer struct {
	layout    paths.Layout
	extractor *archive.Extractor
	logger    *logging.Logger
	metrics   *monitoring.Metrics
}

// NewInstaller creates an installer for layout. logger and metrics may be nil.
func NewInstaller(layout paths.Layout, logger *logging.Logger, metrics *monitoring.Metrics) *Installer {
	logger = logging.OrNop(logger)
	return &Installer{
		layout:    layout,
		extractor: archive.NewExtractor(logger),
		logger:    logger.Component("envelope"),
		metrics:   metrics,
	}
}

// Install verifies the envelope at filePath and installs it as name. A
// rejected envelope deletes filePath; the archive never reaches the
// extractor. The caller owns filePath after a successful install.
func (i *Installer) Install(filePath, name string) (*Result, error) {
	res, err := i.install(filePath, name)
	if err != nil {
		i.metrics.RecordInstall(monitoring.OutcomeFailure)
		i.logger.Warn("Package install failed", zap.String("package", name), zap.Error(err))
		return nil, err
	}
	i.metrics.RecordInstall(monitoring.OutcomeSuccess)
	i.logger.Info("Package installed",
		zap.String("package", name),
		zap.String("version", res.Version),
		zap.String("digest", res.Digest))
	return res, nil
}

func (i *Installer) install(filePath, name string) (*Result, error) {
	if err := paths.ValidatePackageName(name); err != nil {
		return nil, errdefs.Wrap(errdefs.InvalidArguments, name, "invalid package name", err)
	}

	data, err := readWhole(filePath)
	if err != nil {
		i.reject(filePath)
		return nil, errdefs.Wrap(errdefs.InvalidEnvelope, name, "reading envelope", err)
	}

	env, err := ParseAndVerify(data)
	if err != nil {
		i.reject(filePath)
		return nil, withPackage(err, name)
	}

	dest := i.layout.PackageDir(name)
	if err := i.swapIn(env.Archive, name, dest); err != nil {
		return nil, err
	}

	res := &Result{
		Name:        name,
		Path:        dest,
		Digest:      env.Digest(),
		InstalledAt: time.Now(),
	}
	if m, err := manifest.Load(i.layout.ManifestPath(name)); err == nil {
		res.Version = m.Version
	} else {
		i.logger.Debug("Installed package has no readable manifest", zap.String("package", name), zap.Error(err))
	}
	return res, nil
}

// swapIn extracts into a staging directory and renames it over dest.
func (i *Installer) swapIn(archiveData []byte, name, dest string) error {
	stagingRoot := i.layout.StagingRoot(name)
	staging := i.layout.StagingDir(name)
	defer os.RemoveAll(stagingRoot)

	if err := i.extractor.ExtractBuffer(archiveData, staging); err != nil {
		_ = os.RemoveAll(dest)
		return withPackage(err, name)
	}

	if err := os.RemoveAll(dest); err != nil {
		return errdefs.Wrap(errdefs.ExtractionFailure, name, "removing previous install", err)
	}
	if err := os.MkdirAll(i.layout.Packages, 0755); err != nil {
		return errdefs.Wrap(errdefs.ExtractionFailure, name, "creating packages dir", err)
	}
	if err := os.Rename(staging, dest); err != nil {
		_ = os.RemoveAll(dest)
		return errdefs.Wrap(errdefs.ExtractionFailure, name, "moving package into place", err)
	}
	return nil
}

func (i *Installer) reject(filePath string) {
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		i.logger.Warn("Failed to delete rejected envelope", zap.String("path", filePath), zap.Error(err))
	}
}

// readWhole reads the file and fails if fewer bytes arrive than its size.
func readWhole(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	data := make([]byte, info.Size())
	if _, err := io.ReadFull(f, data); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("bytes read does not match file size")
		}
		return nil, err
	}
	return data, nil
}

// withPackage stamps the package name onto a classified error that lacks one.
func withPackage(err error, name string) error {
	if e, ok := err.(*errdefs.Error); ok && e.Package == "" {
		e.Package = name
	}
	return err
}
