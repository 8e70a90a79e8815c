package simulator

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/rideline/ridectl/internal/common/auth"
	"github.com/rideline/ridectl/internal/common/domain"
	"github.com/rideline/ridectl/internal/common/response"
	"github.com/rideline/ridectl/internal/domain/user"
)

// CreateAccount registers a verified account directly.
func (s *Server) CreateAccount(name, email, password string, role user.Role) (*user.User, error) {
	acc, err := s.addAccount(name, email, "", password, role)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	acc.user.Verified = true
	u := acc.user
	s.mu.Unlock()
	return &u, nil
}

// IssueToken signs a token for an existing account.
func (s *Server) IssueToken(email string) (string, error) {
	s.mu.Lock()
	acc, ok := s.accounts[strings.ToLower(email)]
	s.mu.Unlock()
	if !ok {
		return "", domain.NewNotFoundError("Account", email)
	}
	return s.jwt.GenerateToken(acc.user.ID, acc.user.Role)
}

func (s *Server) addAccount(name, email, phone, password string, role user.Role) (*account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[email]; exists {
		return nil, domain.NewConflictError("email already registered")
	}
	now := s.now().UTC()
	acc := &account{
		user: user.User{
			ID:        uuid.New().String(),
			Name:      name,
			Email:     email,
			Phone:     phone,
			Role:      role,
			CreatedAt: &now,
		},
		passwordHash: hash,
	}
	s.accounts[email] = acc
	s.byID[acc.user.ID] = acc
	return acc, nil
}

func (s *Server) caller(c *gin.Context) (*account, user.Role, bool) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return nil, "", false
	}
	role, _ := auth.GetRole(c)
	s.mu.Lock()
	acc, ok := s.byID[userID]
	s.mu.Unlock()
	if !ok {
		response.Unauthorized(c, "unknown account")
		return nil, "", false
	}
	return acc, role, true
}

// signup handles POST /api/v1/auth/signup.
func (s *Server) signup(c *gin.Context) {
	var req struct {
		Name     string `json:"name" binding:"required"`
		Email    string `json:"email" binding:"required,email"`
		Phone    string `json:"phone"`
		Password string `json:"password" binding:"required,min=8"`
		Role     string `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	role, err := user.ParseRole(req.Role)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if _, err := s.addAccount(req.Name, req.Email, req.Phone, req.Password, role); err != nil {
		response.Error(c, err)
		return
	}
	s.logger.Info("simulated signup", zap.String("email", req.Email), zap.String("otp", s.opts.OTP))
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "verification code sent"})
}

// verifyOTP handles POST /api/v1/auth/verify-otp.
func (s *Server) verifyOTP(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
		OTP   string `json:"otp" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	s.mu.Lock()
	acc, ok := s.accounts[strings.ToLower(req.Email)]
	if ok && req.OTP == s.opts.OTP {
		acc.user.Verified = true
	}
	s.mu.Unlock()

	if !ok || req.OTP != s.opts.OTP {
		response.BadRequest(c, "invalid verification code")
		return
	}
	s.issue(c, acc)
}

// resendOTP handles POST /api/v1/auth/resend-otp.
func (s *Server) resendOTP(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "verification code sent"})
}

// login handles POST /api/v1/auth/login.
func (s *Server) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
		Role     string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	s.mu.Lock()
	acc, ok := s.accounts[strings.ToLower(strings.TrimSpace(req.Email))]
	var (
		hash     []byte
		verified bool
		role     user.Role
	)
	if ok {
		hash, verified, role = acc.passwordHash, acc.user.Verified, acc.user.Role
	}
	s.mu.Unlock()

	if !ok || bcrypt.CompareHashAndPassword(hash, []byte(req.Password)) != nil {
		response.Unauthorized(c, "invalid email or password")
		return
	}
	if !verified {
		response.Forbidden(c, "email not verified")
		return
	}
	if req.Role != "" && !strings.EqualFold(req.Role, role.String()) {
		response.Forbidden(c, "account is not a "+strings.ToLower(req.Role))
		return
	}
	s.issue(c, acc)
}

func (s *Server) issue(c *gin.Context, acc *account) {
	s.mu.Lock()
	u := acc.user
	s.mu.Unlock()

	token, err := s.jwt.GenerateToken(u.ID, u.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"token": token, "role": u.Role, "user": u})
}

// logout handles POST /api/v1/auth/logout.
func (s *Server) logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// me handles GET /api/v1/auth/me.
func (s *Server) me(c *gin.Context) {
	acc, _, ok := s.caller(c)
	if !ok {
		return
	}
	s.mu.Lock()
	u := acc.user
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"user": u})
}
