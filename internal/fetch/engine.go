package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/modhost/internal/envelope"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/shared/errdefs"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/shared/paths"
)

// Installer turns a downloaded envelope into an installed package.
type Installer interface {
	Install(filePath, name string) (*envelope.Result, error)
}

// Options locates the index and bounds each download.
type Options struct {
	ServerURL    string
	DeviceInfo   string
	ArchiveExt   string
	ConnTimeout  time.Duration
	MaxRedirects int
}

// OptionsFromConfig extracts engine options from the package settings.
func OptionsFromConfig(cfg config.PackagesConfig) Options {
	return Options{
		ServerURL:    cfg.ServerURL,
		DeviceInfo:   cfg.DeviceInfo,
		ArchiveExt:   cfg.ArchiveExt,
		ConnTimeout:  cfg.ConnTimeout,
		MaxRedirects: cfg.MaxRedirects,
	}
}

// Engine downloads packages and queries their latest versions.
type Engine struct {
	opts      Options
	client    *Client
	installer Installer
	layout    paths.Layout
	logger    *logging.Logger
	metrics   *monitoring.Metrics
}

// NewEngine creates a download engine. logger and metrics may be nil.
func NewEngine(opts Options, client *Client, installer Installer, layout paths.Layout, logger *logging.Logger, metrics *monitoring.Metrics) *Engine {
	if opts.ArchiveExt == "" {
		opts.ArchiveExt = ".crx"
	}
	if opts.ConnTimeout <= 0 {
		opts.ConnTimeout = 10 * time.Second
	}
	opts.ServerURL = strings.TrimRight(opts.ServerURL, "/")
	opts.DeviceInfo = slashed(opts.DeviceInfo)
	return &Engine{
		opts:      opts,
		client:    client,
		installer: installer,
		layout:    layout,
		logger:    logging.OrNop(logger).Component("fetch"),
		metrics:   metrics,
	}
}

// slashed makes s start and end with a slash.
func slashed(s string) string {
	if !strings.HasPrefix(s, "/") {
		s = "/" + s
	}
	if !strings.HasSuffix(s, "/") {
		s += "/"
	}
	return s
}

// ModuleURL returns the download URL of a package.
func (e *Engine) ModuleURL(name string) string {
	return e.opts.ServerURL + "/getModule" + e.opts.DeviceInfo + url.PathEscape(name) + e.opts.ArchiveExt
}

// VersionsURL returns the version query URL for names.
func (e *Engine) VersionsURL(names []string) string {
	escaped := make([]string, len(names))
	for i, name := range names {
		escaped[i] = url.PathEscape(name)
	}
	return e.opts.ServerURL + "/getVersions" + e.opts.DeviceInfo + strings.Join(escaped, "/")
}

// Download fetches, verifies and installs a package. The temp file is
// removed whatever the outcome.
func (e *Engine) Download(ctx context.Context, name string) (*envelope.Result, error) {
	if err := paths.ValidatePackageName(name); err != nil {
		return nil, errdefs.Wrap(errdefs.InvalidArguments, name, "invalid package name", err)
	}
	if err := os.MkdirAll(e.layout.Temp, 0755); err != nil {
		return nil, errdefs.Wrap(errdefs.TransportError, name, "creating temp dir", err)
	}

	start := time.Now()
	file := e.layout.DownloadPath(name, e.opts.ArchiveExt)
	defer os.Remove(file)

	written, err := e.fetch(ctx, name, file)
	if err != nil {
		e.metrics.RecordDownload(monitoring.OutcomeFailure, written, time.Since(start))
		e.logger.Warn("Download failed", zap.String("package", name), zap.Error(err))
		return nil, err
	}
	e.metrics.RecordDownload(monitoring.OutcomeSuccess, written, time.Since(start))
	e.logger.Info("Download complete",
		zap.String("package", name),
		zap.Int64("bytes", written),
		zap.Duration("duration", time.Since(start)))

	return e.installer.Install(file, name)
}

// fetch streams the package to file, following redirects.
func (e *Engine) fetch(ctx context.Context, name, file string) (int64, error) {
	target := e.ModuleURL(name)
	redirects := 0

	for {
		idle := newIdleTimer(ctx, e.opts.ConnTimeout)
		resp, err := e.client.do(idle.ctx, func() (*resty.Response, error) {
			return e.client.Stream.R().
				SetContext(idle.ctx).
				SetDoNotParseResponse(true).
				Get(target)
		})
		if err != nil {
			idle.stop()
			return 0, withPackage(idle.explain(err), name)
		}

		status := resp.StatusCode()
		switch {
		case status == http.StatusOK:
			written, err := e.stream(resp, idle, name, file)
			idle.stop()
			return written, err

		case status >= 300 && status < 400:
			closeBody(resp)
			idle.stop()
			location := resp.Header().Get("Location")
			if location == "" {
				return 0, errdefs.New(errdefs.TransportError, name, "redirect without location").WithStatus(status)
			}
			redirects++
			if redirects > e.opts.MaxRedirects {
				return 0, errdefs.Newf(errdefs.TransportError, name, "too many redirects (%d)", e.opts.MaxRedirects).WithStatus(status)
			}
			next, err := resolveLocation(target, location)
			if err != nil {
				return 0, errdefs.Wrap(errdefs.TransportError, name, "invalid redirect location", err)
			}
			e.logger.Debug("Following redirect", zap.String("package", name), zap.String("location", next))
			target = next

		case status == http.StatusNotFound:
			closeBody(resp)
			idle.stop()
			return 0, errdefs.New(errdefs.NotFound, name, "module not found").WithStatus(status)

		default:
			closeBody(resp)
			idle.stop()
			return 0, errdefs.New(errdefs.TransportError, name, "unexpected response").WithStatus(status)
		}
	}
}

// stream copies the body into file, which is opened for append on the
// first chunk.
func (e *Engine) stream(resp *resty.Response, idle *idleTimer, name, file string) (int64, error) {
	body := resp.RawBody()
	defer body.Close()

	total := resp.RawResponse.ContentLength
	if total < 0 {
		return 0, errdefs.New(errdefs.IncompleteDownload, name, "missing content length").WithStatus(http.StatusOK)
	}
	_ = os.Remove(file)

	var (
		out     *os.File
		written int64
		lastPct int64 = -1
		buf           = make([]byte, 32*1024)
	)
	fail := func(err error) (int64, error) {
		if out != nil {
			out.Close()
		}
		_ = os.Remove(file)
		return written, err
	}

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			idle.touch()
			if out == nil {
				f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
				if err != nil {
					return fail(errdefs.Wrap(errdefs.TransportError, name, "opening download file", err))
				}
				out = f
			}
			if _, err := out.Write(buf[:n]); err != nil {
				return fail(errdefs.Wrap(errdefs.TransportError, name, "writing download file", err))
			}
			written += int64(n)
			if total > 0 {
				if pct := written * 100 / total; pct != lastPct {
					lastPct = pct
					e.logger.Debug("Download progress", zap.String("package", name), zap.Int64("percent", pct))
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if errors.Is(readErr, io.ErrUnexpectedEOF) {
				return fail(errdefs.Wrap(errdefs.IncompleteDownload, name, "connection closed early", readErr))
			}
			return fail(withPackage(idle.explain(errdefs.Wrap(errdefs.TransportError, "", "reading body", readErr)), name))
		}
	}

	if out != nil {
		if err := out.Close(); err != nil {
			return fail(errdefs.Wrap(errdefs.TransportError, name, "closing download file", err))
		}
	}
	if written != total {
		_ = os.Remove(file)
		return written, errdefs.Newf(errdefs.IncompleteDownload, name, "received %d of %d bytes", written, total)
	}
	return written, nil
}

type versionList struct {
	VersionList []*string `json:"versionList"`
}

// LatestVersions asks the index for the newest version of each name. The
// result is aligned with names; unknown packages map to "".
func (e *Engine) LatestVersions(ctx context.Context, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}

	resp, err := e.client.do(ctx, func() (*resty.Response, error) {
		return e.client.Query.R().SetContext(ctx).Get(e.VersionsURL(names))
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, errdefs.New(errdefs.TransportError, "", "version query failed").WithStatus(resp.StatusCode())
	}

	var list versionList
	if err := sonic.Unmarshal(resp.Body(), &list); err != nil {
		return nil, errdefs.Wrap(errdefs.TransportError, "", "decoding version list", err)
	}
	if len(list.VersionList) != len(names) {
		return nil, errdefs.Newf(errdefs.TransportError, "", "version list has %d entries for %d packages", len(list.VersionList), len(names))
	}

	versions := make([]string, len(names))
	for i, v := range list.VersionList {
		if v != nil {
			versions[i] = *v
		}
	}
	return versions, nil
}

func resolveLocation(base, location string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	l, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(l).String(), nil
}

func closeBody(resp *resty.Response) {
	if body := resp.RawBody(); body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
		body.Close()
	}
}

func withPackage(err error, name string) error {
	var e *errdefs.Error
	if errors.As(err, &e) && e.Package == "" {
		e.Package = name
	}
	return err
}

// idleTimer cancels its context when no bytes arrive for d.
type idleTimer struct {
	ctx    context.Context
	cancel context.CancelFunc
	d      time.Duration
	timer  *time.Timer

	mu    sync.Mutex
	fired bool
}

func newIdleTimer(parent context.Context, d time.Duration) *idleTimer {
	ctx, cancel := context.WithCancel(parent)
	t := &idleTimer{ctx: ctx, cancel: cancel, d: d}
	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		t.fired = true
		t.mu.Unlock()
		cancel()
	})
	return t
}

func (t *idleTimer) touch() {
	t.timer.Reset(t.d)
}

func (t *idleTimer) stop() {
	t.timer.Stop()
	t.cancel()
}

// explain rewrites err as a timeout when the idle timer caused it.
func (t *idleTimer) explain(err error) error {
	t.mu.Lock()
	fired := t.fired
	t.mu.Unlock()
	if fired {
		return errdefs.Newf(errdefs.TransportError, "", "connection idle for %s", t.d)
	}
	return err
}
