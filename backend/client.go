package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jrsteele09/elearn-session/credentials"
	"github.com/jrsteele09/elearn-session/gateway"
	"github.com/jrsteele09/elearn-session/internal/errors"
	"github.com/jrsteele09/elearn-session/stores/catalogue"
	"github.com/jrsteele09/elearn-session/stores/notifications"
	"github.com/jrsteele09/elearn-session/users"
)

// Backend routes
const (
	RouteLogin         = "/auth/login"
	RouteRegister      = "/auth/register"
	RouteRefresh       = "/auth/refresh"
	RouteVerify        = "/auth/verify"
	RouteLogout        = "/auth/logout"
	RouteCourses       = "/courses"
	RouteNotifications = "/notifications"
)

// Sender is implemented by *gateway.Gateway.
type Sender interface {
	Send(ctx context.Context, req *gateway.Request) gateway.Result
}

// Client is the typed view of the backend endpoints the session core uses.
type Client struct {
	gw      Sender
	nowTime func() time.Time
}

// ClientOption defines a function type to modify the Client instance.
type ClientOption func(*Client)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ClientOption {
	return func(c *Client) {
		c.nowTime = nowFunc
	}
}

func NewClient(gw Sender, options ...ClientOption) *Client {
	c := &Client{gw: gw, nowTime: time.Now}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// AuthResult is what login and registration resolve to.
type AuthResult struct {
	Credential credentials.Credential
	Identity   *users.Identity
}

// RegisterInput is the profile submitted on sign-up.
type RegisterInput struct {
	Email       string         `json:"email"`
	DisplayName string         `json:"displayName"`
	Password    string         `json:"password"`
	Role        users.RoleType `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenResponse struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	ExpiresIn    int64        `json:"expiresIn,omitempty"`
	User         *identityDTO `json:"user,omitempty"`
}

type identityDTO struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Name        string `json:"name"`
	Role        string `json:"role"`
}

func (d *identityDTO) toIdentity() (*users.Identity, error) {
	if d == nil || d.ID == "" {
		return nil, errors.Wrapf(errors.ErrMalformedResponse, "identity without id")
	}
	name := d.DisplayName
	if name == "" {
		name = d.Name
	}
	return &users.Identity{
		ID:          d.ID,
		Email:       d.Email,
		DisplayName: name,
		Role:        users.ParseRole(d.Role),
	}, nil
}

type accessResponse struct {
	HasAccess *bool `json:"hasAccess"`
}

// RejectedError is returned when the backend refuses submitted credentials
// or a registration. Message is safe to show on the form.
type RejectedError struct {
	Op      string
	Status  int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("[Client.%s] %v: %s", e.Op, errors.ErrInvalidCredentials, e.Message)
}

func (e *RejectedError) Unwrap() error {
	return errors.ErrInvalidCredentials
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Login submits credentials. Rejections wrap errors.ErrInvalidCredentials.
func (c *Client) Login(ctx context.Context, email, password string) (AuthResult, error) {
	res := c.gw.Send(ctx, &gateway.Request{
		Method:    http.MethodPost,
		Path:      RouteLogin,
		Body:      loginRequest{Email: email, Password: password},
		NoRetry:   true,
		Anonymous: true,
	})
	return c.authResult(res, "Login")
}

// Register creates an account and logs it in.
func (c *Client) Register(ctx context.Context, input RegisterInput) (AuthResult, error) {
	res := c.gw.Send(ctx, &gateway.Request{
		Method:    http.MethodPost,
		Path:      RouteRegister,
		Body:      input,
		NoRetry:   true,
		Anonymous: true,
	})
	return c.authResult(res, "Register")
}

func (c *Client) authResult(res gateway.Result, op string) (AuthResult, error) {
	if !res.OK() {
		if res.Kind == gateway.KindHTTPError && res.Status >= 400 && res.Status < 500 {
			return AuthResult{}, &RejectedError{Op: op, Status: res.Status, Message: errorMessage(res)}
		}
		return AuthResult{}, fmt.Errorf("[Client.%s] %w", op, transportError(res))
	}

	var tr tokenResponse
	if err := res.DecodeJSON(&tr); err != nil {
		return AuthResult{}, fmt.Errorf("[Client.%s] %w", op, err)
	}
	if tr.AccessToken == "" {
		return AuthResult{}, fmt.Errorf("[Client.%s] %w: missing access token", op, errors.ErrMalformedResponse)
	}
	identity, err := tr.User.toIdentity()
	if err != nil {
		return AuthResult{}, fmt.Errorf("[Client.%s] %w", op, err)
	}
	return AuthResult{
		Credential: credentials.FromTokenResponse(tr.AccessToken, tr.RefreshToken, tr.ExpiresIn, c.nowTime()),
		Identity:   identity,
	}, nil
}

// Refresh exchanges a refresh token. It is marked NoRetry so that a 401
// here can never recurse into another refresh. A rejection wraps
// errors.ErrSessionExpired; an unreachable or failing backend wraps
// errors.ErrNetworkUnavailable.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (credentials.Credential, error) {
	res := c.gw.Send(ctx, &gateway.Request{
		Method:    http.MethodPost,
		Path:      RouteRefresh,
		Body:      refreshRequest{RefreshToken: refreshToken},
		NoRetry:   true,
		Anonymous: true,
	})
	if !res.OK() {
		if res.Kind == gateway.KindHTTPError && res.Status < 500 {
			return credentials.Credential{}, fmt.Errorf("[Client.Refresh] %w: %s", errors.ErrSessionExpired, errorMessage(res))
		}
		return credentials.Credential{}, fmt.Errorf("[Client.Refresh] %w", transportError(res))
	}

	var tr tokenResponse
	if err := res.DecodeJSON(&tr); err != nil {
		return credentials.Credential{}, fmt.Errorf("[Client.Refresh] %w", err)
	}
	if tr.AccessToken == "" {
		return credentials.Credential{}, fmt.Errorf("[Client.Refresh] %w: missing access token", errors.ErrMalformedResponse)
	}
	return credentials.FromTokenResponse(tr.AccessToken, tr.RefreshToken, tr.ExpiresIn, c.nowTime()), nil
}

// Verify resolves the identity behind the held credential.
func (c *Client) Verify(ctx context.Context) (*users.Identity, error) {
	res := c.gw.Send(ctx, &gateway.Request{Method: http.MethodGet, Path: RouteVerify})
	if !res.OK() {
		if res.Kind == gateway.KindHTTPError && res.Status == http.StatusUnauthorized {
			return nil, fmt.Errorf("[Client.Verify] %w", errors.ErrSessionExpired)
		}
		return nil, fmt.Errorf("[Client.Verify] %w", transportError(res))
	}
	var dto identityDTO
	if err := res.DecodeJSON(&dto); err != nil {
		return nil, fmt.Errorf("[Client.Verify] %w", err)
	}
	identity, err := dto.toIdentity()
	if err != nil {
		return nil, fmt.Errorf("[Client.Verify] %w", err)
	}
	return identity, nil
}

// Logout asks the backend to revoke the refresh token. It runs after the
// local credential is gone, so it is sent anonymously. Callers treat it as
// best effort.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	res := c.gw.Send(ctx, &gateway.Request{
		Method:    http.MethodPost,
		Path:      RouteLogout,
		Body:      refreshRequest{RefreshToken: refreshToken},
		NoRetry:   true,
		Anonymous: true,
	})
	if !res.OK() {
		return fmt.Errorf("[Client.Logout] %w", res.Err)
	}
	return nil
}

// CourseAccess reports whether the current identity is entitled to the course.
func (c *Client) CourseAccess(ctx context.Context, courseID string) (bool, error) {
	res := c.gw.Send(ctx, &gateway.Request{
		Method: http.MethodGet,
		Path:   RouteCourses + "/" + url.PathEscape(courseID) + "/access",
	})
	if !res.OK() {
		return false, fmt.Errorf("[Client.CourseAccess] %w", res.Err)
	}
	var ar accessResponse
	if err := res.DecodeJSON(&ar); err != nil {
		return false, fmt.Errorf("[Client.CourseAccess] %w", err)
	}
	if ar.HasAccess == nil {
		return false, fmt.Errorf("[Client.CourseAccess] %w: hasAccess missing", errors.ErrMalformedResponse)
	}
	return *ar.HasAccess, nil
}

// CourseIsFree reports the course's free/paid flag.
func (c *Client) CourseIsFree(ctx context.Context, courseID string) (bool, error) {
	course, err := c.Course(ctx, courseID)
	if err != nil {
		return false, err
	}
	return course.IsFree, nil
}

// Course fetches one catalogue entry.
func (c *Client) Course(ctx context.Context, courseID string) (catalogue.Course, error) {
	res := c.gw.Send(ctx, &gateway.Request{
		Method: http.MethodGet,
		Path:   RouteCourses + "/" + url.PathEscape(courseID),
	})
	if !res.OK() {
		return catalogue.Course{}, fmt.Errorf("[Client.Course] %w", res.Err)
	}
	var course catalogue.Course
	if err := res.DecodeJSON(&course); err != nil {
		return catalogue.Course{}, fmt.Errorf("[Client.Course] %w", err)
	}
	if course.ID == "" {
		return catalogue.Course{}, fmt.Errorf("[Client.Course] %w: course without id", errors.ErrMalformedResponse)
	}
	return course, nil
}

// Courses fetches the full catalogue.
func (c *Client) Courses(ctx context.Context) ([]catalogue.Course, error) {
	res := c.gw.Send(ctx, &gateway.Request{Method: http.MethodGet, Path: RouteCourses})
	if !res.OK() {
		return nil, fmt.Errorf("[Client.Courses] %w", res.Err)
	}
	var courses []catalogue.Course
	if err := res.DecodeJSON(&courses); err != nil {
		return nil, fmt.Errorf("[Client.Courses] %w", err)
	}
	return courses, nil
}

// Notifications fetches the current identity's notifications.
func (c *Client) Notifications(ctx context.Context) ([]notifications.Notification, error) {
	res := c.gw.Send(ctx, &gateway.Request{Method: http.MethodGet, Path: RouteNotifications})
	if !res.OK() {
		return nil, fmt.Errorf("[Client.Notifications] %w", res.Err)
	}
	var items []notifications.Notification
	if err := res.DecodeJSON(&items); err != nil {
		return nil, fmt.Errorf("[Client.Notifications] %w", err)
	}
	return items, nil
}

// transportError maps failures that are not the caller's fault onto
// errors.ErrNetworkUnavailable; 5xx counts as the backend being unavailable.
func transportError(res gateway.Result) error {
	if res.Kind == gateway.KindHTTPError && res.Status >= 500 {
		return fmt.Errorf("%w: %v", errors.ErrNetworkUnavailable, res.Err)
	}
	return res.Err
}

func errorMessage(res gateway.Result) string {
	var ae apiError
	if err := json.Unmarshal(res.Body, &ae); err == nil {
		if ae.Message != "" {
			return ae.Message
		}
		if ae.Error != "" {
			return ae.Error
		}
	}
	if msg := strings.TrimSpace(string(res.Body)); msg != "" && len(msg) < 200 {
		return msg
	}
	return http.StatusText(res.Status)
}
