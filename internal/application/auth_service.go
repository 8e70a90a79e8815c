package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rideline/ridectl/internal/apiclient"
	"github.com/rideline/ridectl/internal/common/domain"
	"github.com/rideline/ridectl/internal/domain/credential"
	"github.com/rideline/ridectl/internal/domain/user"
)

// SignupRequest holds the data needed to create an account.
type SignupRequest struct {
	Name     string    `json:"name" validate:"required"`
	Email    string    `json:"email" validate:"required,email"`
	Phone    string    `json:"phone,omitempty"`
	Password string    `json:"password" validate:"required,min=8"`
	Role     user.Role `json:"role" validate:"required,oneof=PASSENGER DRIVER"`
}

// LoginRequest holds login credentials. Role tells the server which app is
// signing in.
type LoginRequest struct {
	Email    string    `json:"email" validate:"required,email"`
	Password string    `json:"password" validate:"required"`
	Role     user.Role `json:"role,omitempty"`
}

type verifyOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required,numeric,min=4"`
}

type authResponse struct {
	Token       string    `json:"token"`
	AccessToken string    `json:"access_token"`
	Role        string    `json:"role"`
	User        user.User `json:"user"`
}

func (r authResponse) token() string {
	if r.Token != "" {
		return r.Token
	}
	return r.AccessToken
}

// Session is the signed-in state returned by Login and VerifyOTP.
type Session struct {
	Credentials *credential.Credentials `json:"credentials"`
	User        *user.User              `json:"user,omitempty"`
}

// AuthService handles signup, OTP verification, login and logout.
type AuthService struct {
	api    *apiclient.Client
	store  credential.Store
	logger *zap.Logger
}

// NewAuthService creates a new AuthService.
func NewAuthService(api *apiclient.Client, logger *zap.Logger) *AuthService {
	return &AuthService{api: api, store: api.Store(), logger: logger}
}

// Signup creates an account. The server emails an OTP that VerifyOTP consumes.
func (s *AuthService) Signup(ctx context.Context, req SignupRequest) error {
	req.Email = normalizeEmail(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	if err := validateRequest(req); err != nil {
		return err
	}
	if err := s.api.Post(ctx, "/api/v1/auth/signup", req, nil); err != nil {
		return err
	}
	s.logger.Info("signup submitted", zap.String("email", req.Email), zap.String("role", req.Role.String()))
	return nil
}

// VerifyOTP confirms the signup email and stores the returned session.
func (s *AuthService) VerifyOTP(ctx context.Context, email, otp string) (*Session, error) {
	req := verifyOTPRequest{Email: normalizeEmail(email), OTP: strings.TrimSpace(otp)}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	var resp authResponse
	if err := s.api.Post(ctx, "/api/v1/auth/verify-otp", req, &resp); err != nil {
		return nil, err
	}
	return s.establish(ctx, resp, "")
}

// ResendOTP asks the server to send a fresh OTP.
func (s *AuthService) ResendOTP(ctx context.Context, email string) error {
	req := struct {
		Email string `json:"email" validate:"required,email"`
	}{Email: normalizeEmail(email)}
	if err := validateRequest(req); err != nil {
		return err
	}
	return s.api.Post(ctx, "/api/v1/auth/resend-otp", req, nil)
}

// Login signs in and stores the session token.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	req.Email = normalizeEmail(req.Email)
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	var resp authResponse
	if err := s.api.Post(ctx, "/api/v1/auth/login", req, &resp); err != nil {
		return nil, err
	}
	return s.establish(ctx, resp, req.Role)
}

// Logout tells the server and always clears local credentials.
func (s *AuthService) Logout(ctx context.Context) error {
	if err := s.api.Post(ctx, "/api/v1/auth/logout", nil, nil); err != nil && !errors.Is(err, domain.ErrUnauthorized) {
		s.logger.Warn("server logout failed, clearing local session anyway", zap.Error(err))
	}
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// Me fetches the signed-in user's profile.
func (s *AuthService) Me(ctx context.Context) (*user.User, error) {
	var u user.User
	if err := s.api.Get(ctx, "/api/v1/auth/me", &u, "user"); err != nil {
		return nil, err
	}
	return &u, nil
}

// Session returns the stored credentials, or ErrUnauthorized when signed out.
func (s *AuthService) Session(ctx context.Context) (*credential.Credentials, error) {
	creds, err := s.store.Load(ctx)
	if err != nil {
		if errors.Is(err, credential.ErrNoCredentials) {
			return nil, domain.NewUnauthorizedError("not signed in")
		}
		return nil, err
	}
	return creds, nil
}

func (s *AuthService) establish(ctx context.Context, resp authResponse, requested user.Role) (*Session, error) {
	token := resp.token()
	if token == "" {
		return nil, domain.NewRemoteError(200, "server did not return a token")
	}

	fallback := requested
	if r, err := user.ParseRole(resp.Role); err == nil {
		fallback = r
	} else if resp.User.Role.IsValid() {
		fallback = resp.User.Role
	}
	if fallback == "" {
		fallback = user.RolePassenger
	}

	creds := credential.FromToken(token, fallback)
	if creds.UserID == "" {
		creds.UserID = resp.User.ID
	}
	if err := s.store.Save(ctx, creds); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	s.logger.Info("signed in",
		zap.String("user_id", creds.UserID),
		zap.String("role", creds.Role.String()),
	)

	sess := &Session{Credentials: creds}
	if resp.User.ID != "" {
		u := resp.User
		sess.User = &u
	}
	return sess, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
