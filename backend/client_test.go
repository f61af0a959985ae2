package backend_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/elearn-session/backend"
	"github.com/jrsteele09/elearn-session/backend/backendfake"
	"github.com/jrsteele09/elearn-session/credentials"
	"github.com/jrsteele09/elearn-session/gateway"
	"github.com/jrsteele09/elearn-session/internal/errors"
	"github.com/jrsteele09/elearn-session/refresh"
	"github.com/jrsteele09/elearn-session/storage/memstore"
	"github.com/jrsteele09/elearn-session/stores/catalogue"
	"github.com/jrsteele09/elearn-session/stores/notifications"
	"github.com/jrsteele09/elearn-session/users"
)

const password = "Passw0rd!"

type fixture struct {
	server *backendfake.Server
	creds  *credentials.Store
	gw     *gateway.Gateway
	client *backend.Client
}

func setup(t *testing.T) *fixture {
	t.Helper()
	srv := backendfake.New()
	t.Cleanup(srv.Close)

	creds := credentials.NewStore(memstore.New(), zerolog.Nop())
	gw, err := gateway.New(srv.URL, creds)
	require.NoError(t, err)
	client := backend.NewClient(gw)

	coordinator, err := refresh.NewCoordinator(creds, client.Refresh)
	require.NoError(t, err)
	gw.UseRefresher(coordinator)

	return &fixture{server: srv, creds: creds, gw: gw, client: client}
}

func TestClient_Login(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	want := f.server.AddUser("sam@example.com", password, "Sam", users.RoleInstructor)

	res, err := f.client.Login(ctx, "sam@example.com", password)
	require.NoError(t, err)
	require.Equal(t, want, res.Identity)
	require.NotEmpty(t, res.Credential.AccessToken)
	require.NotEmpty(t, res.Credential.RefreshToken)
	require.NotNil(t, res.Credential.ExpiresAtHint)
	require.WithinDuration(t, time.Now().Add(15*time.Minute), *res.Credential.ExpiresAtHint, time.Minute)
}

func TestClient_LoginRejected(t *testing.T) {
	f := setup(t)
	f.server.AddUser("sam@example.com", password, "Sam", users.RoleStudent)

	_, err := f.client.Login(context.Background(), "sam@example.com", "wrong")
	require.ErrorIs(t, err, errors.ErrInvalidCredentials)

	var rejected *backend.RejectedError
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, http.StatusUnauthorized, rejected.Status)
	require.Equal(t, "invalid email or password", rejected.Message)
}

func TestClient_Register(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.client.Register(ctx, backend.RegisterInput{
		Email:       "new@example.com",
		DisplayName: "New Person",
		Password:    password,
		Role:        users.RoleMentor,
	})
	require.NoError(t, err)
	require.Equal(t, users.RoleMentor, res.Identity.Role)
	require.Equal(t, "New Person", res.Identity.DisplayName)

	_, err = f.client.Register(ctx, backend.RegisterInput{Email: "new@example.com", Password: password})
	var rejected *backend.RejectedError
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, http.StatusConflict, rejected.Status)
	require.Equal(t, "email already registered", rejected.Message)
}

func TestClient_RefreshRotates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.server.AddUser("sam@example.com", password, "Sam", users.RoleStudent)
	res, err := f.client.Login(ctx, "sam@example.com", password)
	require.NoError(t, err)

	next, err := f.client.Refresh(ctx, res.Credential.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, res.Credential.RefreshToken, next.RefreshToken)

	_, err = f.client.Refresh(ctx, res.Credential.RefreshToken)
	require.ErrorIs(t, err, errors.ErrSessionExpired, "refresh tokens are single use")
}

func TestClient_VerifyRefreshesExpiredAccessToken(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	want := f.server.AddUser("sam@example.com", password, "Sam", users.RoleStudent)
	res, err := f.client.Login(ctx, "sam@example.com", password)
	require.NoError(t, err)
	f.creds.Save(ctx, res.Credential)

	f.server.ExpireAccessTokens()

	identity, err := f.client.Verify(ctx)
	require.NoError(t, err)
	require.Equal(t, want.ID, identity.ID)
	require.Equal(t, 1, f.server.RefreshCalls())

	cred, ok := f.creds.Load(ctx)
	require.True(t, ok)
	require.NotEqual(t, res.Credential.AccessToken, cred.AccessToken)
}

func TestClient_VerifyExpiredSession(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.server.AddUser("sam@example.com", password, "Sam", users.RoleStudent)
	res, err := f.client.Login(ctx, "sam@example.com", password)
	require.NoError(t, err)
	f.creds.Save(ctx, res.Credential)

	f.server.ExpireAccessTokens()
	f.server.RevokeRefreshTokens()

	_, err = f.client.Verify(ctx)
	require.ErrorIs(t, err, errors.ErrSessionExpired)
}

func TestClient_Logout(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.server.AddUser("sam@example.com", password, "Sam", users.RoleStudent)
	res, err := f.client.Login(ctx, "sam@example.com", password)
	require.NoError(t, err)
	require.Equal(t, 1, f.server.OutstandingRefreshTokens())

	require.NoError(t, f.client.Logout(ctx, res.Credential.RefreshToken))
	require.Zero(t, f.server.OutstandingRefreshTokens())
}

func TestClient_Courses(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	sam := f.server.AddUser("sam@example.com", password, "Sam", users.RoleStudent)
	f.server.AddCourse(catalogue.Course{ID: "go-101", Title: "Go Basics", IsFree: true})
	f.server.AddCourse(catalogue.Course{ID: "k8s-201", Title: "Kubernetes", Price: 49})
	f.server.Grant(sam.ID, "k8s-201")

	res, err := f.client.Login(ctx, "sam@example.com", password)
	require.NoError(t, err)
	f.creds.Save(ctx, res.Credential)

	courses, err := f.client.Courses(ctx)
	require.NoError(t, err)
	require.Len(t, courses, 2)

	free, err := f.client.CourseIsFree(ctx, "go-101")
	require.NoError(t, err)
	require.True(t, free)

	access, err := f.client.CourseAccess(ctx, "k8s-201")
	require.NoError(t, err)
	require.True(t, access)

	access, err = f.client.CourseAccess(ctx, "go-101")
	require.NoError(t, err)
	require.False(t, access)

	_, err = f.client.Course(ctx, "missing")
	require.Error(t, err)
}

func TestClient_Notifications(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	sam := f.server.AddUser("sam@example.com", password, "Sam", users.RoleStudent)
	f.server.AddNotification(sam.ID, notifications.Notification{ID: "n1", Title: "Welcome", Kind: notifications.KindInfo, CreatedAt: time.Now()})

	res, err := f.client.Login(ctx, "sam@example.com", password)
	require.NoError(t, err)
	f.creds.Save(ctx, res.Credential)

	items, err := f.client.Notifications(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, notifications.KindInfo, items[0].Kind)
}

func TestClient_MalformedResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case backend.RouteLogin:
			_, _ = w.Write([]byte(`{"accessToken":"a","refreshToken":"r","user":{"email":"x@example.com"}}`))
		case "/courses/c1/access":
			_, _ = w.Write([]byte(`{}`))
		default:
			_, _ = w.Write([]byte(`not json`))
		}
	}))
	t.Cleanup(srv.Close)

	creds := credentials.NewStore(memstore.New(), zerolog.Nop())
	gw, err := gateway.New(srv.URL, creds)
	require.NoError(t, err)
	client := backend.NewClient(gw)
	ctx := context.Background()

	_, err = client.Login(ctx, "x@example.com", password)
	require.ErrorIs(t, err, errors.ErrMalformedResponse)

	_, err = client.CourseAccess(ctx, "c1")
	require.ErrorIs(t, err, errors.ErrMalformedResponse)

	_, err = client.Courses(ctx)
	require.ErrorIs(t, err, errors.ErrMalformedResponse)
}

func TestClient_ServerErrorsAreUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	creds := credentials.NewStore(memstore.New(), zerolog.Nop())
	gw, err := gateway.New(srv.URL, creds)
	require.NoError(t, err)
	client := backend.NewClient(gw)

	_, err = client.Login(context.Background(), "x@example.com", password)
	require.ErrorIs(t, err, errors.ErrNetworkUnavailable)
	require.NotErrorIs(t, err, errors.ErrInvalidCredentials)

	_, err = client.Refresh(context.Background(), "r")
	require.ErrorIs(t, err, errors.ErrNetworkUnavailable)
}
