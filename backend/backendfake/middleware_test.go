package backendfake

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestChainOrder(t *testing.T) {
	var order []string
	tag := func(name string) middleware {
		return func(next http.HandlerFunc) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next(w, r)
			}
		}
	}
	h := chain(func(http.ResponseWriter, *http.Request) { order = append(order, "route") }, tag("outer"), tag("inner"))
	h(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, []string{"outer", "inner", "route"}, order)
}

func TestRecoverMiddleware(t *testing.T) {
	var buf bytes.Buffer
	s := &Server{log: zerolog.New(&buf)}
	h := chain(func(http.ResponseWriter, *http.Request) { panic("boom") }, s.loggingMiddleware, s.recoverMiddleware)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/courses", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, buf.String(), `"panic":"boom"`)
	require.Contains(t, buf.String(), `"status":500`)
}

func TestRequestsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	srv := New(WithLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)))
	t.Cleanup(srv.Close)

	res, err := http.Post(srv.URL+"/auth/login", "application/json", strings.NewReader(`{"email":"nobody@example.com","password":"x"}`))
	require.NoError(t, err)
	_ = res.Body.Close()

	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	require.Contains(t, buf.String(), `"path":"/auth/login"`)
	require.Contains(t, buf.String(), `"status":401`)
}
