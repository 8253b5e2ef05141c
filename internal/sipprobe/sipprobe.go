// Package sipprobe monitors the telephony provider's SIP edge with
// periodic OPTIONS pings. The health state feeds /healthz and metrics; it
// never gates call orchestration, which talks to the provider over REST.
package sipprobe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"
)

const (
	defaultInterval = 30 * time.Second
	defaultTimeout  = 5 * time.Second

	// downThreshold is how many consecutive failures move the edge from
	// degraded to down.
	downThreshold = 3
)

// Status classifies the SIP edge health.
type Status string

const (
	StatusUnknown  Status = "unknown" // no check completed yet
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded" // failing, below the down threshold
	StatusDown     Status = "down"
)

// Config describes the probe target. An empty Target disables the probe.
type Config struct {
	// Target is the SIP edge as host:port.
	Target    string
	Transport string // udp, tcp or tls; default udp
	Username  string // digest credentials, optional
	Password  string
	Interval  time.Duration
	Timeout   time.Duration
}

// State is a snapshot of the probe's view of the SIP edge.
type State struct {
	Status       Status     `json:"status"`
	Latency      string     `json:"latency,omitempty"`
	LastCheckAt  *time.Time `json:"last_check_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	FailureCount int        `json:"failure_count,omitempty"`
}

// Prober sends OPTIONS pings to the SIP edge on an interval.
type Prober struct {
	cfg    Config
	ua     *sipgo.UserAgent
	client *sipgo.Client
	logger *slog.Logger

	mu       sync.Mutex
	status   Status
	latency  time.Duration
	lastAt   *time.Time
	lastErr  string
	failures int
}

// New creates a prober for the configured SIP edge. It returns nil (and no
// error) when no target is configured.
func New(cfg Config, logger *slog.Logger) (*Prober, error) {
	if cfg.Target == "" {
		return nil, nil
	}
	if cfg.Transport == "" {
		cfg.Transport = "udp"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	ua, err := sipgo.NewUA(sipgo.WithUserAgent("dialcast"))
	if err != nil {
		return nil, fmt.Errorf("creating sip user agent: %w", err)
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("creating sip client: %w", err)
	}

	return &Prober{
		cfg:    cfg,
		ua:     ua,
		client: client,
		logger: logger.With("subsystem", "sipprobe"),
		status: StatusUnknown,
	}, nil
}

// Run pings the edge until the context is cancelled. The first check runs
// immediately.
func (p *Prober) Run(ctx context.Context) {
	p.logger.Info("starting sip edge probe",
		"target", p.cfg.Target,
		"interval", p.cfg.Interval.String(),
	)

	for {
		p.check(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.Interval):
		}
	}
}

// Close releases the underlying SIP client and user agent.
func (p *Prober) Close() {
	p.client.Close()
	p.ua.Close()
}

// State returns a snapshot of the edge health.
func (p *Prober) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := State{
		Status:       p.status,
		LastCheckAt:  p.lastAt,
		LastError:    p.lastErr,
		FailureCount: p.failures,
	}
	if p.latency > 0 {
		s.Latency = p.latency.Round(time.Millisecond).String()
	}
	return s
}

// Healthy reports whether the edge responded to the most recent ping.
func (p *Prober) Healthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status == StatusOK || p.status == StatusUnknown
}

func (p *Prober) check(ctx context.Context) {
	start := time.Now()
	err := p.ping(ctx)
	if ctx.Err() != nil {
		return
	}
	p.record(err, time.Since(start))
}

// record folds one check result into the health state.
func (p *Prober) record(err error, elapsed time.Duration) {
	now := time.Now()
	p.mu.Lock()
	p.lastAt = &now
	if err == nil {
		p.status = StatusOK
		p.latency = elapsed
		p.lastErr = ""
		p.failures = 0
		p.mu.Unlock()
		return
	}
	p.failures++
	p.lastErr = err.Error()
	if p.failures >= downThreshold {
		p.status = StatusDown
	} else {
		p.status = StatusDegraded
	}
	status := p.status
	failures := p.failures
	p.mu.Unlock()

	p.logger.Warn("sip edge ping failed",
		"target", p.cfg.Target,
		"status", string(status),
		"failures", failures,
		"error", err,
	)
}

// ping sends one OPTIONS request, retrying once with digest credentials on
// a 401 or 407 challenge.
func (p *Prober) ping(ctx context.Context) error {
	recipientStr := "sip:" + p.cfg.Target
	var recipient sip.Uri
	if err := sip.ParseUri(recipientStr, &recipient); err != nil {
		return fmt.Errorf("parsing target uri: %w", err)
	}

	req := sip.NewRequest(sip.OPTIONS, recipient)
	req.SetTransport(strings.ToUpper(p.cfg.Transport))

	pingCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	tx, err := p.client.TransactionRequest(pingCtx, req, sipgo.ClientRequestBuild)
	if err != nil {
		return fmt.Errorf("sending options: %w", err)
	}

	res, err := getResponse(pingCtx, tx)
	tx.Terminate()
	if err != nil {
		return fmt.Errorf("waiting for options response: %w", err)
	}

	if (res.StatusCode == 401 || res.StatusCode == 407) && p.cfg.Username != "" {
		res, err = p.retryWithAuth(pingCtx, req, res, recipientStr)
		if err != nil {
			return err
		}
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("options ping returned status %d %s", res.StatusCode, res.Reason)
	}
	return nil
}

func (p *Prober) retryWithAuth(ctx context.Context, req *sip.Request, challenge *sip.Response, uri string) (*sip.Response, error) {
	authHeader := "WWW-Authenticate"
	authzHeader := "Authorization"
	if challenge.StatusCode == 407 {
		authHeader = "Proxy-Authenticate"
		authzHeader = "Proxy-Authorization"
	}

	hdr := challenge.GetHeader(authHeader)
	if hdr == nil {
		return nil, fmt.Errorf("received %d but no %s header", challenge.StatusCode, authHeader)
	}

	chal, err := digest.ParseChallenge(hdr.Value())
	if err != nil {
		return nil, fmt.Errorf("parsing auth challenge: %w", err)
	}

	cred, err := digest.Digest(chal, digest.Options{
		Method:   req.Method.String(),
		URI:      uri,
		Username: p.cfg.Username,
		Password: p.cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("computing digest: %w", err)
	}

	authReq := req.Clone()
	authReq.RemoveHeader("Via")
	authReq.AppendHeader(sip.NewHeader(authzHeader, cred.String()))

	tx, err := p.client.TransactionRequest(ctx, authReq,
		sipgo.ClientRequestIncreaseCSEQ,
		sipgo.ClientRequestAddVia,
	)
	if err != nil {
		return nil, fmt.Errorf("sending authenticated options: %w", err)
	}

	res, err := getResponse(ctx, tx)
	tx.Terminate()
	if err != nil {
		return nil, fmt.Errorf("waiting for authenticated options response: %w", err)
	}
	return res, nil
}

// getResponse waits for the first response from a SIP client transaction.
func getResponse(ctx context.Context, tx sip.ClientTransaction) (*sip.Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-tx.Done():
		return nil, fmt.Errorf("transaction terminated: %w", tx.Err())
	case res := <-tx.Responses():
		return res, nil
	}
}
