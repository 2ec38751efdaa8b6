package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/shared/errdefs"
)

const userAgent = "modhost/1.0"

// errServerStatus marks a 5xx answer so the breaker counts it while the
// caller still sees the response.
var errServerStatus = errors.New("index server error")

// ClientOptions configures the index client.
type ClientOptions struct {
	// Timeout bounds a whole version query. Downloads are bounded by the
	// engine's idle timeout instead.
	Timeout time.Duration
	// Retries is how often a failed version query is retried.
	Retries int
	// RetryWait is the minimum backoff between version query retries.
	RetryWait time.Duration
	// RequestsPerSecond limits outgoing requests; 0 means unlimited.
	RequestsPerSecond float64
	// InsecureTLS skips certificate verification.
	InsecureTLS bool
}

// DefaultClientOptions returns production client settings.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Timeout:   30 * time.Second,
		Retries:   2,
		RetryWait: 500 * time.Millisecond,
	}
}

// Client talks to the package index. Stream never retries and never
// follows redirects itself; Query retries through retryablehttp. Both share
// one pooled transport, one rate limiter and one circuit breaker.
type Client struct {
	Stream  *resty.Client
	Query   *resty.Client
	Limiter *rate.Limiter
	Breaker *resilience.Breaker

	mu sync.RWMutex
}

// NewClient creates an index client.
func NewClient(opts ClientOptions, logger *logging.Logger) *Client {
	logger = logging.OrNop(logger).Component("index-client")
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultClientOptions().Timeout
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = DefaultClientOptions().RetryWait
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.Retries
	retryClient.RetryWaitMin = opts.RetryWait
	retryClient.RetryWaitMax = 30 * opts.RetryWait
	retryClient.Logger = leveledLogger{logger.Sugar()}

	if transport, ok := retryClient.HTTPClient.Transport.(*http.Transport); ok && opts.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	stream := resty.NewWithClient(&http.Client{Transport: retryClient.HTTPClient.Transport})
	stream.
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept-Encoding", "identity").
		OnBeforeRequest(tracing.InjectRequest).
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}))

	query := resty.NewWithClient(retryClient.StandardClient())
	query.
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json").
		OnBeforeRequest(tracing.InjectRequest)

	breaker := resilience.New("package-index", resilience.Settings{
		Threshold: 5,
		Cooldown:  30 * time.Second,
		Counts: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("Index circuit changed state",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})

	c := &Client{
		Stream:  stream,
		Query:   query,
		Breaker: breaker,
	}
	c.SetRateLimit(opts.RequestsPerSecond)
	return c
}

// SetRateLimit configures the request rate; rps <= 0 removes the limit.
func (c *Client) SetRateLimit(rps float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rps <= 0 {
		c.Limiter = rate.NewLimiter(rate.Inf, 0)
		return
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	c.Limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// do waits for the limiter and runs send behind the breaker. 5xx answers
// count as breaker failures but are still returned to the caller.
func (c *Client) do(ctx context.Context, send func() (*resty.Response, error)) (*resty.Response, error) {
	c.mu.RLock()
	limiter := c.Limiter
	c.mu.RUnlock()

	if err := limiter.Wait(ctx); err != nil {
		return nil, errdefs.Wrap(errdefs.TransportError, "", "rate limit", err)
	}

	resp, err := resilience.Call(c.Breaker, func() (*resty.Response, error) {
		resp, err := send()
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return resp, errServerStatus
		}
		return resp, nil
	})
	switch {
	case errors.Is(err, errServerStatus):
		return resp, nil
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrProbeInFlight):
		return nil, errdefs.Wrap(errdefs.TransportError, "", "package index unavailable", err)
	case err != nil:
		return nil, errdefs.Wrap(errdefs.TransportError, "", "request failed", err)
	}
	return resp, nil
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
