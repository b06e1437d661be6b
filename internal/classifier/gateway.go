package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/refset/desk-routing/internal/routing"
)

// DefaultTimeout bounds one remote classification call.
const DefaultTimeout = 10 * time.Second

// Fallback reasons, as counted in metrics.
const (
	reasonNoRemote    = "no_remote"
	reasonTimeout     = "timeout"
	reasonError       = "error"
	reasonOutOfSchema = "out_of_schema"
)

// Gateway wraps a remote classifier with a timeout and the local heuristic.
// Remote failures are logged and counted, never returned.
type Gateway struct {
	remote    routing.Classifier
	heuristic Heuristic
	timeout   time.Duration
	logger    *zap.Logger
	metrics   *routing.Metrics
}

// NewGateway returns a gateway over remote, which may be nil.
func NewGateway(remote routing.Classifier, heuristic Heuristic, timeout time.Duration, logger *zap.Logger, metrics *routing.Metrics) *Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{remote: remote, heuristic: heuristic, timeout: timeout, logger: logger, metrics: metrics}
}

func (g *Gateway) Classify(ctx context.Context, subject, body string) (routing.Classification, error) {
	if g.remote == nil {
		return g.fallback(reasonNoRemote, subject, body), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	c, err := g.remote.Classify(callCtx, subject, body)
	if err == nil && !routing.KnownIntent(c.IntentCode) {
		err = fmt.Errorf("%w: %q", ErrOutOfSchema, c.IntentCode)
	}
	if err != nil {
		reason := reasonError
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			reason = reasonTimeout
		case errors.Is(err, ErrOutOfSchema):
			reason = reasonOutOfSchema
		}
		g.logger.Warn("remote classification failed, using heuristic",
			zap.String("classifier", g.RemoteName()), zap.String("reason", reason), zap.Error(err))
		return g.fallback(reason, subject, body), nil
	}
	return c, nil
}

// RemoteName names the remote classifier, "none" when the heuristic runs alone.
func (g *Gateway) RemoteName() string {
	switch r := g.remote.(type) {
	case nil:
		return "none"
	case interface{ Name() string }:
		return r.Name()
	}
	return "remote"
}

// Ping checks that the remote classifier is reachable within the call timeout.
// Remotes without a health check, and a missing remote, always pass.
func (g *Gateway) Ping(ctx context.Context) error {
	p, ok := g.remote.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("classifier %s: %w", g.RemoteName(), err)
	}
	return nil
}

func (g *Gateway) fallback(reason, subject, body string) routing.Classification {
	if reason != reasonNoRemote {
		g.metrics.ClassifierFallback(reason)
	}
	return g.heuristic.classify(subject, body)
}

// Options selects and configures the remote classifier.
type Options struct {
	Provider      string
	BaseURL       string
	Username      string
	Password      string
	APIKey        string
	Model         string
	Timeout       time.Duration
	DefaultIntent string
	MaxConfidence float64
	Logger        *zap.Logger
	Metrics       *routing.Metrics
}

// New builds the gateway for the configured provider: "heuristic", "http" or "gemini".
func New(ctx context.Context, opts Options) (*Gateway, error) {
	h := Heuristic{DefaultIntent: opts.DefaultIntent, MaxConfidence: opts.MaxConfidence}

	var remote routing.Classifier
	switch opts.Provider {
	case "", "heuristic":
	case "http":
		if opts.BaseURL == "" {
			return nil, fmt.Errorf("classifier: http provider needs a base URL")
		}
		remote = NewHTTPClient(opts.BaseURL, opts.Username, opts.Password, opts.Timeout)
	case "gemini":
		g, err := NewGemini(ctx, opts.APIKey, opts.Model)
		if err != nil {
			return nil, fmt.Errorf("classifier: %w", err)
		}
		remote = g
	default:
		return nil, fmt.Errorf("classifier: unknown provider %q", opts.Provider)
	}
	return NewGateway(remote, h, opts.Timeout, opts.Logger, opts.Metrics), nil
}
