package gateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/elearn-session/credentials"
	"github.com/jrsteele09/elearn-session/gateway"
	"github.com/jrsteele09/elearn-session/internal/errors"
	"github.com/jrsteele09/elearn-session/internal/metrics"
	"github.com/jrsteele09/elearn-session/storage/memstore"
)

// tokenServer accepts only the bearer token held in valid.
type tokenServer struct {
	valid atomic.Value
	hits  atomic.Int32
}

func newTokenServer(t *testing.T, valid string) (*tokenServer, *httptest.Server) {
	t.Helper()
	ts := &tokenServer{}
	ts.valid.Store(valid)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.hits.Add(1)
		if r.Header.Get("X-Request-ID") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+ts.valid.Load().(string) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"ok"}`))
	}))
	t.Cleanup(srv.Close)
	return ts, srv
}

// stubRefresher saves next into the store, or fails with err.
type stubRefresher struct {
	store *credentials.Store
	next  credentials.Credential
	err   error
	calls atomic.Int32
}

func (s *stubRefresher) Refresh(ctx context.Context) (credentials.Credential, error) {
	s.calls.Add(1)
	if s.err != nil {
		return credentials.Credential{}, s.err
	}
	s.store.Save(ctx, s.next)
	return s.next, nil
}

func newGateway(t *testing.T, baseURL string, options ...gateway.Option) (*gateway.Gateway, *credentials.Store) {
	t.Helper()
	store := credentials.NewStore(memstore.New(), zerolog.Nop())
	gw, err := gateway.New(baseURL, store, options...)
	require.NoError(t, err)
	return gw, store
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := gateway.New("http://localhost", nil)
	require.Error(t, err)
}

func TestSend_AttachesCredential(t *testing.T) {
	_, srv := newTokenServer(t, "access-1")
	gw, store := newGateway(t, srv.URL, gateway.WithRequestIDFunc(func() string { return "req-1" }))
	store.Save(context.Background(), credentials.Credential{AccessToken: "access-1", RefreshToken: "refresh-1"})

	res := gw.Send(context.Background(), &gateway.Request{Method: http.MethodGet, Path: "/thing"})
	require.True(t, res.OK())
	require.NoError(t, res.Error())
	require.Equal(t, "req-1", res.RequestID)
	require.False(t, res.Retried)

	var body struct{ Name string }
	require.NoError(t, res.DecodeJSON(&body))
	require.Equal(t, "ok", body.Name)

	var wrongShape []string
	require.ErrorIs(t, res.DecodeJSON(&wrongShape), errors.ErrMalformedResponse)
}

func TestSend_RefreshesAndRetriesOnce(t *testing.T) {
	ts, srv := newTokenServer(t, "access-2")
	gw, store := newGateway(t, srv.URL)
	store.Save(context.Background(), credentials.Credential{AccessToken: "access-1", RefreshToken: "refresh-1"})

	refresher := &stubRefresher{store: store, next: credentials.Credential{AccessToken: "access-2", RefreshToken: "refresh-2"}}
	gw.UseRefresher(refresher)

	expired := atomic.Int32{}
	gw.OnSessionExpired(func(context.Context) { expired.Add(1) })

	res := gw.Send(context.Background(), &gateway.Request{Method: http.MethodGet, Path: "/thing"})
	require.True(t, res.OK())
	require.True(t, res.Retried)
	require.Equal(t, int32(1), refresher.calls.Load())
	require.Equal(t, int32(2), ts.hits.Load())
	require.Zero(t, expired.Load())
}

func TestSend_SecondUnauthorizedExpiresSession(t *testing.T) {
	_, srv := newTokenServer(t, "never-issued")
	gw, store := newGateway(t, srv.URL)
	store.Save(context.Background(), credentials.Credential{AccessToken: "access-1", RefreshToken: "refresh-1"})
	refresher := &stubRefresher{store: store, next: credentials.Credential{AccessToken: "access-2", RefreshToken: "refresh-2"}}
	gw.UseRefresher(refresher)

	expired := atomic.Int32{}
	gw.OnSessionExpired(func(context.Context) { expired.Add(1) })

	res := gw.Send(context.Background(), &gateway.Request{Method: http.MethodGet, Path: "/thing"})
	require.Equal(t, gateway.KindSessionExpired, res.Kind)
	require.ErrorIs(t, res.Err, errors.ErrSessionExpired)
	require.True(t, res.Retried)
	require.Equal(t, int32(1), refresher.calls.Load())
	require.Equal(t, int32(1), expired.Load())
}

func TestSend_RefreshFailure(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantKind    gateway.ErrorKind
		wantExpired int32
	}{
		{"rejected", errors.Wrapf(errors.ErrSessionExpired, "refresh rejected"), gateway.KindSessionExpired, 1},
		{"unreachable", errors.Wrapf(errors.ErrNetworkUnavailable, "dial"), gateway.KindNetworkUnavailable, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, srv := newTokenServer(t, "access-2")
			gw, store := newGateway(t, srv.URL)
			store.Save(context.Background(), credentials.Credential{AccessToken: "access-1", RefreshToken: "refresh-1"})
			gw.UseRefresher(&stubRefresher{store: store, err: tt.err})

			expired := atomic.Int32{}
			gw.OnSessionExpired(func(context.Context) { expired.Add(1) })

			res := gw.Send(context.Background(), &gateway.Request{Method: http.MethodGet, Path: "/thing"})
			require.Equal(t, tt.wantKind, res.Kind)
			require.Equal(t, tt.wantExpired, expired.Load())
			require.Equal(t, int32(1), ts.hits.Load(), "no retry after a failed refresh")
		})
	}
}

func TestSend_NoRetryAndAnonymousPassThrough(t *testing.T) {
	for _, req := range []*gateway.Request{
		{Method: http.MethodPost, Path: "/auth/refresh", NoRetry: true},
		{Method: http.MethodPost, Path: "/auth/login", Anonymous: true},
	} {
		t.Run(req.Path, func(t *testing.T) {
			_, srv := newTokenServer(t, "access-2")
			gw, store := newGateway(t, srv.URL)
			store.Save(context.Background(), credentials.Credential{AccessToken: "access-1", RefreshToken: "refresh-1"})
			refresher := &stubRefresher{store: store}
			gw.UseRefresher(refresher)

			res := gw.Send(context.Background(), req)
			require.Equal(t, gateway.KindHTTPError, res.Kind)
			require.Equal(t, http.StatusUnauthorized, res.Status)
			require.Zero(t, refresher.calls.Load())
		})
	}
}

func TestSend_UnauthorizedWithoutCredential(t *testing.T) {
	_, srv := newTokenServer(t, "access-1")
	gw, store := newGateway(t, srv.URL)
	refresher := &stubRefresher{store: store}
	gw.UseRefresher(refresher)
	expired := atomic.Int32{}
	gw.OnSessionExpired(func(context.Context) { expired.Add(1) })

	res := gw.Send(context.Background(), &gateway.Request{Method: http.MethodGet, Path: "/thing"})
	require.Equal(t, gateway.KindHTTPError, res.Kind)
	require.Zero(t, refresher.calls.Load())
	require.Zero(t, expired.Load())
}

func TestSend_SkipsRefreshWhenTokenAlreadyRotated(t *testing.T) {
	var store *credentials.Store
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			// another caller finished a refresh while this request was out
			store.Save(r.Context(), credentials.Credential{AccessToken: "access-2", RefreshToken: "refresh-2"})
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Authorization") != "Bearer access-2" {
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	t.Cleanup(srv.Close)

	gw, s := newGateway(t, srv.URL)
	store = s
	store.Save(context.Background(), credentials.Credential{AccessToken: "access-1", RefreshToken: "refresh-1"})
	refresher := &stubRefresher{store: store}
	gw.UseRefresher(refresher)

	res := gw.Send(context.Background(), &gateway.Request{Method: http.MethodGet, Path: "/thing"})
	require.True(t, res.OK())
	require.True(t, res.Retried)
	require.Zero(t, refresher.calls.Load())
}

func TestSend_OtherErrorsAreNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	}))
	t.Cleanup(srv.Close)

	gw, _ := newGateway(t, srv.URL)
	res := gw.Send(context.Background(), &gateway.Request{Method: http.MethodGet, Path: "/thing"})
	require.Equal(t, gateway.KindHTTPError, res.Kind)
	require.Equal(t, http.StatusInternalServerError, res.Status)
	require.JSONEq(t, `{"error":"boom"}`, string(res.Body))

	var se *gateway.StatusError
	require.ErrorAs(t, res.Err, &se)
	require.Equal(t, http.StatusInternalServerError, se.Status)
	require.Equal(t, int32(1), hits.Load())
}

func TestSend_NetworkUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	gw, _ := newGateway(t, url)
	res := gw.Send(context.Background(), &gateway.Request{Method: http.MethodGet, Path: "/thing"})
	require.Equal(t, gateway.KindNetworkUnavailable, res.Kind)
	require.ErrorIs(t, res.Err, errors.ErrNetworkUnavailable)
}

func TestSend_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	gw, _ := newGateway(t, srv.URL, gateway.WithTimeout(50*time.Millisecond))
	started := time.Now()
	res := gw.Send(context.Background(), &gateway.Request{Method: http.MethodGet, Path: "/slow"})
	require.Equal(t, gateway.KindNetworkUnavailable, res.Kind)
	require.Less(t, time.Since(started), 5*time.Second)
}

func TestOnSessionExpired_Unregister(t *testing.T) {
	_, srv := newTokenServer(t, "never-issued")
	gw, store := newGateway(t, srv.URL)
	store.Save(context.Background(), credentials.Credential{AccessToken: "access-1", RefreshToken: "refresh-1"})
	gw.UseRefresher(&stubRefresher{store: store, err: errors.ErrSessionExpired})

	calls := atomic.Int32{}
	unregister := gw.OnSessionExpired(func(context.Context) { calls.Add(1) })
	unregister()

	res := gw.Send(context.Background(), &gateway.Request{Method: http.MethodGet, Path: "/thing"})
	require.Equal(t, gateway.KindSessionExpired, res.Kind)
	require.Zero(t, calls.Load())
}

func TestSend_RecordsOutcome(t *testing.T) {
	_, srv := newTokenServer(t, "access-1")
	m := metrics.New(prometheus.NewRegistry())
	gw, store := newGateway(t, srv.URL, gateway.WithMetrics(m))

	gw.Send(context.Background(), &gateway.Request{Method: http.MethodGet, Path: "/thing"})
	store.Save(context.Background(), credentials.Credential{AccessToken: "access-1"})
	gw.Send(context.Background(), &gateway.Request{Method: http.MethodGet, Path: "/thing"})

	require.Equal(t, 1.0, testutil.ToFloat64(m.GatewayRequestsTotal.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.GatewayRequestsTotal.WithLabelValues("http_error")))
}

// refresherFunc adapts a func to gateway.Refresher.
type refresherFunc func(ctx context.Context) (credentials.Credential, error)

func (f refresherFunc) Refresh(ctx context.Context) (credentials.Credential, error) {
	return f(ctx)
}

func TestSend_CallerLeavingDuringRefreshKeepsSession(t *testing.T) {
	_, srv := newTokenServer(t, "access-2")
	gw, store := newGateway(t, srv.URL)
	held := credentials.Credential{AccessToken: "access-1", RefreshToken: "refresh-1"}
	store.Save(context.Background(), held)
	gw.UseRefresher(refresherFunc(func(ctx context.Context) (credentials.Credential, error) {
		<-ctx.Done()
		return credentials.Credential{}, ctx.Err()
	}))

	expired := atomic.Int32{}
	gw.OnSessionExpired(func(context.Context) { expired.Add(1) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res := gw.Send(ctx, &gateway.Request{Method: http.MethodGet, Path: "/thing"})

	require.Equal(t, gateway.KindCancelled, res.Kind)
	require.ErrorIs(t, res.Err, context.DeadlineExceeded)
	require.NotErrorIs(t, res.Err, errors.ErrSessionExpired)
	require.Zero(t, expired.Load())

	cred, ok := store.Load(context.Background())
	require.True(t, ok)
	require.Equal(t, held, cred)
}

func TestSend_StaleRequestDoesNotExpireReplacementSession(t *testing.T) {
	_, srv := newTokenServer(t, "someone-else")
	gw, store := newGateway(t, srv.URL)
	store.Save(context.Background(), credentials.Credential{AccessToken: "access-a", RefreshToken: "refresh-a"})

	replacement := credentials.Credential{AccessToken: "access-b", RefreshToken: "refresh-b"}
	gw.UseRefresher(refresherFunc(func(ctx context.Context) (credentials.Credential, error) {
		// The first login ends and a second one starts while the refresh is out.
		store.Clear(ctx)
		store.Save(ctx, replacement)
		return credentials.Credential{}, errors.Wrapf(errors.ErrSessionExpired, "refresh token revoked")
	}))

	expired := atomic.Int32{}
	gw.OnSessionExpired(func(context.Context) { expired.Add(1) })

	res := gw.Send(context.Background(), &gateway.Request{Method: http.MethodGet, Path: "/thing"})
	require.Equal(t, gateway.KindSessionExpired, res.Kind)
	require.Zero(t, expired.Load())

	cred, ok := store.Load(context.Background())
	require.True(t, ok)
	require.Equal(t, replacement, cred)
}

func TestSend_RetryRejectedAfterLogoutDoesNotExpire(t *testing.T) {
	var store *credentials.Store
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer access-2" {
			// The user signs out while the retried request is in flight.
			store.Clear(context.Background())
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	gw, s := newGateway(t, srv.URL)
	store = s
	store.Save(context.Background(), credentials.Credential{AccessToken: "access-1", RefreshToken: "refresh-1"})
	gw.UseRefresher(&stubRefresher{store: store, next: credentials.Credential{AccessToken: "access-2", RefreshToken: "refresh-2"}})

	expired := atomic.Int32{}
	gw.OnSessionExpired(func(context.Context) { expired.Add(1) })

	res := gw.Send(context.Background(), &gateway.Request{Method: http.MethodGet, Path: "/thing"})
	require.Equal(t, gateway.KindSessionExpired, res.Kind)
	require.True(t, res.Retried)
	require.Zero(t, expired.Load())
}

func TestSend_RefreshesAheadOfExpiryHint(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ts, srv := newTokenServer(t, "access-2")
	gw, store := newGateway(t, srv.URL, gateway.WithNowTime(func() time.Time { return now }))
	stale := now.Add(-time.Minute)
	store.Save(context.Background(), credentials.Credential{AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresAtHint: &stale})

	fresh := now.Add(time.Hour)
	refresher := &stubRefresher{store: store, next: credentials.Credential{AccessToken: "access-2", RefreshToken: "refresh-2", ExpiresAtHint: &fresh}}
	gw.UseRefresher(refresher)

	res := gw.Send(context.Background(), &gateway.Request{Method: http.MethodGet, Path: "/thing"})
	require.True(t, res.OK())
	require.False(t, res.Retried)
	require.Equal(t, int32(1), refresher.calls.Load())
	require.Equal(t, int32(1), ts.hits.Load(), "the expired token never left")
}

func TestGateway_TokenSourceDrivesOAuth2Client(t *testing.T) {
	var seen atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	gw, store := newGateway(t, srv.URL)
	ctx := context.Background()
	store.Save(ctx, credentials.Credential{AccessToken: "access-1", RefreshToken: "refresh-1"})

	resp, err := oauth2.NewClient(ctx, gw.TokenSource(ctx)).Get(srv.URL + "/thing")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, "Bearer access-1", seen.Load())

	store.Clear(ctx)
	_, err = gw.TokenSource(ctx).Token()
	require.ErrorIs(t, err, errors.ErrSessionExpired)
}
