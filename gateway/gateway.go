package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/elearn-session/credentials"
	"github.com/jrsteele09/elearn-session/internal/config"
	"github.com/jrsteele09/elearn-session/internal/errors"
	"github.com/jrsteele09/elearn-session/internal/metrics"
)

const (
	headerRequestID = "X-Request-ID"
	maxBodyBytes    = 4 << 20
)

// Doer is the subset of *http.Client the gateway needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Refresher obtains a fresh credential. The returned error wraps
// errors.ErrSessionExpired when the backend rejected the refresh and
// errors.ErrNetworkUnavailable when it could not be reached.
type Refresher interface {
	Refresh(ctx context.Context) (credentials.Credential, error)
}

// Request describes one backend call. Body, when set, is sent as JSON.
type Request struct {
	Method string
	Path   string
	Body   any
	Header http.Header

	// NoRetry disables the refresh-and-retry path. The refresh call itself
	// and credential-submitting calls (login, register) set it so that a 401
	// is returned as-is.
	NoRetry bool

	// Anonymous skips the Authorization header.
	Anonymous bool
}

// Gateway is the single egress point for backend calls.
type Gateway struct {
	baseURL   string
	client    Doer
	creds     *credentials.Store
	timeout   time.Duration
	log       zerolog.Logger
	metrics   *metrics.Metrics
	requestID func() string
	nowTime   func() time.Time

	lock         sync.RWMutex
	refresher    Refresher
	expiredHooks map[int]func(ctx context.Context)
	nextHookID   int
}

// Option configures a Gateway.
type Option func(*Gateway)

func WithHTTPClient(client Doer) Option {
	return func(g *Gateway) {
		g.client = client
	}
}

// WithTimeout overrides the per-dispatch timeout (default 10s).
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(g *Gateway) {
		g.log = logger.With().Str("component", "gateway").Logger()
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithRequestIDFunc replaces the uuid request id generator (primarily for testing).
func WithRequestIDFunc(fn func() string) Option {
	return func(g *Gateway) {
		g.requestID = fn
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(g *Gateway) {
		g.nowTime = nowFunc
	}
}

// New creates a gateway for baseURL that reads credentials from creds.
func New(baseURL string, creds *credentials.Store, options ...Option) (*Gateway, error) {
	if creds == nil {
		return nil, errors.New("[gateway.New] credential store is required")
	}
	g := &Gateway{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       http.DefaultClient,
		creds:        creds,
		timeout:      config.DefaultRequestTimeout,
		log:          zerolog.Nop(),
		requestID:    func() string { return uuid.New().String() },
		nowTime:      time.Now,
		expiredHooks: make(map[int]func(ctx context.Context)),
	}
	for _, opt := range options {
		opt(g)
	}
	return g, nil
}

// UseRefresher installs the refresh coordinator. It is separate from New
// because the coordinator itself sends its refresh call through the gateway.
func (g *Gateway) UseRefresher(r Refresher) {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.refresher = r
}

// OnSessionExpired registers fn to run whenever a request ends in
// KindSessionExpired. The returned func unregisters it.
func (g *Gateway) OnSessionExpired(fn func(ctx context.Context)) func() {
	g.lock.Lock()
	defer g.lock.Unlock()

	id := g.nextHookID
	g.nextHookID++
	g.expiredHooks[id] = fn
	return func() {
		g.lock.Lock()
		defer g.lock.Unlock()
		delete(g.expiredHooks, id)
	}
}

// Send dispatches req. A 401 on a retryable request routes through the
// refresher and the request is re-sent exactly once.
func (g *Gateway) Send(ctx context.Context, req *Request) Result {
	res, tokenUsed := g.dispatch(ctx, req)
	if res.Status != http.StatusUnauthorized || req.NoRetry || req.Anonymous {
		g.record(res)
		return res
	}

	res = g.retryAfterRefresh(ctx, req, res, tokenUsed)
	g.record(res)
	return res
}

func (g *Gateway) retryAfterRefresh(ctx context.Context, req *Request, first Result, tokenUsed string) Result {
	g.lock.RLock()
	refresher := g.refresher
	g.lock.RUnlock()

	held, ok := g.creds.Load(ctx)
	if !ok {
		// Nothing to refresh; an anonymous caller just gets the 401.
		return first
	}
	if refresher == nil {
		return g.expire(ctx, first, errors.New("no refresher installed"), held)
	}

	// Another request may already have rotated the credential since this one
	// left; in that case retry with the new token instead of refreshing again.
	if held.AccessToken == tokenUsed {
		next, err := refresher.Refresh(ctx)
		switch {
		case err == nil:
			held = next
		case ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			g.log.Debug().Err(err).Str("request_id", first.RequestID).Msg("caller left while refresh was pending")
			return Result{
				Status:    first.Status,
				Kind:      KindCancelled,
				Err:       err,
				RequestID: first.RequestID,
			}
		case errors.Is(err, errors.ErrNetworkUnavailable):
			g.log.Warn().Err(err).Str("request_id", first.RequestID).Msg("refresh could not reach backend")
			return Result{
				Status:    first.Status,
				Kind:      KindNetworkUnavailable,
				Err:       err,
				RequestID: first.RequestID,
			}
		default:
			return g.expire(ctx, first, err, held)
		}
	}

	retried, _ := g.dispatch(ctx, req)
	retried.Retried = true
	if retried.Status == http.StatusUnauthorized {
		return g.expire(ctx, retried, errors.New("retry rejected"), held)
	}
	return retried
}

// expire reports the session as expired. The hooks only fire while held is
// still the stored credential; a request that outlived its login must not
// end whichever session replaced it.
func (g *Gateway) expire(ctx context.Context, last Result, cause error, held credentials.Credential) Result {
	res := Result{
		Status:    http.StatusUnauthorized,
		Kind:      KindSessionExpired,
		Err:       fmt.Errorf("%w: %v", errors.ErrSessionExpired, cause),
		RequestID: last.RequestID,
		Retried:   last.Retried,
	}

	current, ok := g.creds.Load(ctx)
	if !ok || !sameLogin(current, held) {
		g.log.Info().
			Str("request_id", last.RequestID).
			AnErr("cause", cause).
			Msg("stale request rejected, current session left alone")
		return res
	}

	g.log.Info().
		Str("request_id", last.RequestID).
		AnErr("cause", cause).
		Msg("session expired")

	g.lock.RLock()
	hooks := make([]func(context.Context), 0, len(g.expiredHooks))
	for _, h := range g.expiredHooks {
		hooks = append(hooks, h)
	}
	g.lock.RUnlock()

	for _, h := range hooks {
		h(ctx)
	}
	return res
}

// sameLogin compares by refresh token, which identifies a login across
// access token rotations. Without one the access token has to match.
func sameLogin(a, b credentials.Credential) bool {
	if a.RefreshToken != "" || b.RefreshToken != "" {
		return a.RefreshToken == b.RefreshToken
	}
	return a.AccessToken == b.AccessToken
}

// tokenSource hands out the stored credential as an oauth2 token. Once its
// expiry hint has passed it refreshes ahead of the request instead of
// waiting for the 401.
type tokenSource struct {
	ctx context.Context
	g   *Gateway
}

var _ oauth2.TokenSource = tokenSource{}

func (ts tokenSource) Token() (*oauth2.Token, error) {
	cred, ok := ts.g.creds.Load(ts.ctx)
	if !ok {
		return nil, errors.ErrSessionExpired
	}
	tok := cred.OAuth2Token()
	if !cred.Expired(ts.g.nowTime()) {
		return tok, nil
	}

	ts.g.lock.RLock()
	refresher := ts.g.refresher
	ts.g.lock.RUnlock()
	if refresher == nil {
		return tok, nil
	}
	fresh, err := refresher.Refresh(ts.ctx)
	if err != nil {
		// Send the stale token; the 401 path decides what happens next.
		ts.g.log.Debug().Err(err).Msg("refresh ahead of expiry failed")
		return tok, nil
	}
	return fresh.OAuth2Token(), nil
}

// TokenSource exposes the gateway's view of the credential to code that
// wants an oauth2-aware client, e.g. oauth2.NewClient.
func (g *Gateway) TokenSource(ctx context.Context) oauth2.TokenSource {
	return tokenSource{ctx: ctx, g: g}
}

// dispatch performs one HTTP round trip. It returns the access token that
// was attached, if any.
func (g *Gateway) dispatch(ctx context.Context, req *Request) (Result, string) {
	requestID := g.requestID()
	started := time.Now()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return Result{Kind: KindInvalidRequest, Err: fmt.Errorf("marshal request: %w", err), RequestID: requestID}, ""
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, g.baseURL+req.Path, body)
	if err != nil {
		return Result{Kind: KindInvalidRequest, Err: fmt.Errorf("build request: %w", err), RequestID: requestID}, ""
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set(headerRequestID, requestID)

	var tokenUsed string
	if !req.Anonymous {
		if tok, err := g.TokenSource(ctx).Token(); err == nil {
			tokenUsed = tok.AccessToken
			tok.SetAuthHeader(httpReq)
		}
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		g.log.Debug().Err(err).Str("request_id", requestID).Str("method", req.Method).Str("path", req.Path).Msg("backend unreachable")
		return Result{
			Kind:      KindNetworkUnavailable,
			Err:       errors.Wrapf(errors.ErrNetworkUnavailable, "%s %s: %v", req.Method, req.Path, err),
			RequestID: requestID,
		}, tokenUsed
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Result{
			Status:    resp.StatusCode,
			Kind:      KindNetworkUnavailable,
			Err:       errors.Wrapf(errors.ErrNetworkUnavailable, "%s %s: read body: %v", req.Method, req.Path, err),
			RequestID: requestID,
		}, tokenUsed
	}

	g.log.Debug().
		Str("request_id", requestID).
		Str("method", req.Method).
		Str("path", req.Path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(started)).
		Msg("backend call")

	res := Result{
		Status:    resp.StatusCode,
		Header:    resp.Header,
		Body:      data,
		RequestID: requestID,
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res.Kind = KindHTTPError
		res.Err = &StatusError{Status: resp.StatusCode, Body: string(data)}
	}
	return res, tokenUsed
}

func (g *Gateway) record(res Result) {
	g.metrics.GatewayRequest(res.Kind.String())
}
