package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/manifest"
)

// VersionRecord is the outcome of comparing one installed package with the
// index.
type VersionRecord struct {
	Package       string
	LocalVersion  string
	ServerVersion string
	CheckedAt     time.Time
	Evicted       bool
}

// CheckVersions compares installed packages with the index and removes
// every package the index has a strictly newer version of. Unless force is
// set it does nothing when the last check is younger than UpdatePeriod. The
// timestamp is only advanced after a successful comparison. It holds the
// package lock throughout.
func (m *Manager) CheckVersions(ctx context.Context, force bool) ([]VersionRecord, error) {
	if err := m.lock.Acquire(ctx); err != nil {
		return nil, err
	}
	defer m.lock.Release()

	now := m.clock.Now()
	if last, ok := m.lastCheck(); ok && !force && !now.After(last.Add(m.opts.UpdatePeriod)) {
		m.logger.Debug("Version check not due", zap.Time("last_check", last))
		m.metrics.RecordVersionCheck(monitoring.OutcomeSkipped, 0)
		return nil, nil
	}

	installed, err := m.layout.Installed()
	if err != nil {
		m.metrics.RecordVersionCheck(monitoring.OutcomeFailure, 0)
		return nil, err
	}
	if len(installed) == 0 {
		m.logger.Debug("No packages installed, skipping version check")
		m.metrics.RecordVersionCheck(monitoring.OutcomeSkipped, 0)
		return nil, nil
	}

	latest, err := m.fetcher.LatestVersions(ctx, installed)
	if err != nil {
		m.metrics.RecordVersionCheck(monitoring.OutcomeFailure, 0)
		return nil, fmt.Errorf("querying latest versions: %w", err)
	}

	records := make([]VersionRecord, 0, len(installed))
	evicted := 0
	for i, pkg := range installed {
		rec := VersionRecord{Package: pkg, ServerVersion: latest[i], CheckedAt: now}
		if rec.ServerVersion == "" {
			records = append(records, rec)
			continue
		}

		mf, err := manifest.Load(m.layout.ManifestPath(pkg))
		if err != nil {
			m.logger.Warn("Skipping package without readable manifest", zap.String("package", pkg), zap.Error(err))
			records = append(records, rec)
			continue
		}
		rec.LocalVersion = mf.Version

		if manifest.Newer(rec.LocalVersion, rec.ServerVersion) {
			if err := os.RemoveAll(m.layout.PackageDir(pkg)); err != nil {
				m.logger.Error("Failed to evict outdated package", zap.String("package", pkg), zap.Error(err))
			} else {
				rec.Evicted = true
				evicted++
				m.logger.Info("Evicted outdated package",
					zap.String("package", pkg),
					zap.String("local", rec.LocalVersion),
					zap.String("server", rec.ServerVersion))
			}
		}
		records = append(records, rec)
	}

	if err := m.writeLastCheck(now); err != nil {
		m.logger.Warn("Failed to record version check time", zap.Error(err))
	}
	m.metrics.RecordVersionCheck(monitoring.OutcomeSuccess, evicted)
	return records, nil
}

// LastCheck returns the time of the last successful version check.
func (m *Manager) LastCheck() (time.Time, bool) {
	return m.lastCheck()
}

// lastCheck reads the timestamp file. A corrupt file is deleted.
func (m *Manager) lastCheck() (time.Time, bool) {
	data, err := os.ReadFile(m.layout.UpdateFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("Failed to read version check time", zap.Error(err))
		}
		return time.Time{}, false
	}
	millis, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil || millis <= 0 {
		m.logger.Warn("Discarding corrupt version check time", zap.String("value", string(data)))
		_ = os.Remove(m.layout.UpdateFile)
		return time.Time{}, false
	}
	return time.UnixMilli(millis), true
}

func (m *Manager) writeLastCheck(t time.Time) error {
	if err := os.MkdirAll(m.layout.Root, 0755); err != nil {
		return err
	}
	return os.WriteFile(m.layout.UpdateFile, []byte(strconv.FormatInt(t.UnixMilli(), 10)), 0644)
}
