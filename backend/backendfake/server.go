// Package backendfake is an in-process stand-in for the e-learning backend,
// used by tests and the CLI's --demo mode.
package backendfake

import (
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/elearn-session/backend"
	"github.com/jrsteele09/elearn-session/stores/catalogue"
	"github.com/jrsteele09/elearn-session/stores/notifications"
	"github.com/jrsteele09/elearn-session/users"
)

type account struct {
	identity     users.Identity
	passwordHash string
}

// Server serves the backend routes from memory.
type Server struct {
	*httptest.Server

	log          zerolog.Logger
	secret       []byte
	accessTTL    time.Duration
	nowTime      func() time.Time
	refreshDelay time.Duration

	lock             sync.RWMutex
	accounts         map[string]*account // by lower-cased email
	refreshTokens    map[string]string   // token -> user id
	epoch            int
	courses          map[string]catalogue.Course
	grants           map[string]map[string]bool // user id -> course id
	inbox            map[string][]notifications.Notification
	entitlementsDown bool

	refreshCalls atomic.Int64
	logoutCalls  atomic.Int64
}

// Option configures a Server.
type Option func(*Server)

// WithAccessTTL sets how long issued access tokens live (default 15 minutes).
func WithAccessTTL(d time.Duration) Option {
	return func(s *Server) {
		s.accessTTL = d
	}
}

// WithLogger logs every request at debug level.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.log = logger
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(s *Server) {
		s.nowTime = nowFunc
	}
}

// WithRefreshDelay holds every refresh response for d, widening the window
// in which concurrent callers pile up.
func WithRefreshDelay(d time.Duration) Option {
	return func(s *Server) {
		s.refreshDelay = d
	}
}

// New starts a fake backend. Callers must Close it.
func New(options ...Option) *Server {
	s := &Server{
		log:           zerolog.Nop(),
		secret:        []byte(uuid.NewString()),
		accessTTL:     15 * time.Minute,
		nowTime:       time.Now,
		accounts:      make(map[string]*account),
		refreshTokens: make(map[string]string),
		courses:       make(map[string]catalogue.Course),
		grants:        make(map[string]map[string]bool),
		inbox:         make(map[string][]notifications.Notification),
	}
	for _, opt := range options {
		opt(s)
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

func (s *Server) routes() http.Handler {
	std := []middleware{s.loggingMiddleware, s.recoverMiddleware}
	authed := append(std[:len(std):len(std)], s.requireAuth)

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+backend.RouteLogin, chain(s.handleLogin, std...))
	mux.HandleFunc("POST "+backend.RouteRegister, chain(s.handleRegister, std...))
	mux.HandleFunc("POST "+backend.RouteRefresh, chain(s.handleRefresh, std...))
	mux.HandleFunc("GET "+backend.RouteVerify, chain(s.handleVerify, authed...))
	mux.HandleFunc("POST "+backend.RouteLogout, chain(s.handleLogout, std...))
	mux.HandleFunc("GET "+backend.RouteCourses, chain(s.handleCourses, std...))
	mux.HandleFunc("GET "+backend.RouteCourses+"/{id}", chain(s.handleCourse, std...))
	mux.HandleFunc("GET "+backend.RouteCourses+"/{id}/access", chain(s.handleCourseAccess, authed...))
	mux.HandleFunc("GET "+backend.RouteNotifications, chain(s.handleNotifications, authed...))
	return mux
}

// AddUser creates an account and returns its identity.
func (s *Server) AddUser(email, password, displayName string, role users.RoleType) *users.Identity {
	hash, err := users.HashPassword(password)
	if err != nil {
		panic(err)
	}
	a := &account{
		identity: users.Identity{
			ID:          uuid.NewString(),
			Email:       email,
			DisplayName: displayName,
			Role:        role,
		},
		passwordHash: hash,
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	s.accounts[strings.ToLower(email)] = a
	return a.identity.Clone()
}

// AddCourse publishes a course.
func (s *Server) AddCourse(c catalogue.Course) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.courses[c.ID] = c
}

// Grant entitles userID to courseID.
func (s *Server) Grant(userID, courseID string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.grants[userID] == nil {
		s.grants[userID] = make(map[string]bool)
	}
	s.grants[userID][courseID] = true
}

// AddNotification delivers n to userID's inbox.
func (s *Server) AddNotification(userID string, n notifications.Notification) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.inbox[userID] = append(s.inbox[userID], n)
}

// ExpireAccessTokens invalidates every access token issued so far. Refresh
// tokens stay valid.
func (s *Server) ExpireAccessTokens() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.epoch++
}

// RevokeRefreshTokens invalidates every outstanding refresh token.
func (s *Server) RevokeRefreshTokens() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.refreshTokens = make(map[string]string)
}

// SetEntitlementsDown makes the access endpoint answer 503.
func (s *Server) SetEntitlementsDown(down bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.entitlementsDown = down
}

// RefreshCalls is how many refresh requests the server has received.
func (s *Server) RefreshCalls() int {
	return int(s.refreshCalls.Load())
}

// LogoutCalls is how many logout requests the server has received.
func (s *Server) LogoutCalls() int {
	return int(s.logoutCalls.Load())
}

// OutstandingRefreshTokens is how many refresh tokens are still redeemable.
func (s *Server) OutstandingRefreshTokens() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.refreshTokens)
}

func (s *Server) courseList() []catalogue.Course {
	s.lock.RLock()
	defer s.lock.RUnlock()
	out := make([]catalogue.Course, 0, len(s.courses))
	for _, c := range s.courses {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
