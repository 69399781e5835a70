package mockauth

import (
	"net/http"
	"time"

	"authrelay/internal/domain"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func (s *Server) routes() {
	s.e.POST("/api/auth/login", s.handleLogin)
	s.e.POST("/api/auth/google", s.handleGoogleLogin)
	s.e.POST("/api/auth/refresh-token", s.handleRefresh)
	s.e.POST("/api/auth/logout", s.handleLogout)
	s.e.GET("/api/auth/me", s.handleMe)
	s.e.POST("/api/auth/register", s.handleRegister)
	s.e.POST("/api/auth/verify-code", s.handleVerifyCode)
	s.e.PUT("/api/auth/update", s.handleUpdate, s.requireBearer)
	s.e.POST("/api/auth/reset-request", s.handleResetRequest)
}

type credentialsRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	ChallengeToken string `json:"challengeToken"`
}

func (s *Server) handleLogin(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid request"})
	}

	s.mu.Lock()
	acct, ok := s.accounts[req.Email]
	s.mu.Unlock()
	if !ok || acct.password != req.Password {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "invalid email or password"})
	}
	if !acct.verified {
		return c.JSON(http.StatusForbidden, echo.Map{"message": "account not verified"})
	}

	if err := s.openSession(c, req.Email); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "token issue failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"user": acct.profile})
}

func (s *Server) handleGoogleLogin(c echo.Context) error {
	var req struct {
		Credential string `json:"credential"`
	}
	if err := c.Bind(&req); err != nil || req.Credential == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "invalid credential"})
	}

	// The credential doubles as the account email; unknown accounts are
	// provisioned on the fly, mirroring first-login provisioning upstream.
	email := req.Credential
	s.mu.Lock()
	acct, ok := s.accounts[email]
	if !ok {
		acct = &account{
			profile: domain.UserProfile{
				ID:       uuid.NewString(),
				Email:    email,
				Role:     "user",
				Verified: true,
			},
			verified: true,
		}
		s.accounts[email] = acct
	}
	s.mu.Unlock()

	if err := s.openSession(c, email); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "token issue failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"user": acct.profile})
}

func (s *Server) handleRefresh(c echo.Context) error {
	s.refreshCalls.Add(1)
	if s.refreshDelay > 0 {
		time.Sleep(s.refreshDelay)
	}

	if s.failRefresh.Load() {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "refresh rejected"})
	}

	cookie, err := c.Cookie(refreshCookieName)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "missing refresh credential"})
	}

	s.mu.Lock()
	email, ok := s.sessions[cookie.Value]
	s.mu.Unlock()
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "unknown refresh credential"})
	}

	token, err := s.signer.issue(email)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "token issue failed"})
	}
	c.Response().Header().Set("Authorization", "Bearer "+token)
	return c.JSON(http.StatusOK, echo.Map{})
}

func (s *Server) handleLogout(c echo.Context) error {
	if cookie, err := c.Cookie(refreshCookieName); err == nil {
		s.mu.Lock()
		delete(s.sessions, cookie.Value)
		s.mu.Unlock()
	}
	c.SetCookie(&http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	return c.JSON(http.StatusOK, echo.Map{})
}

func (s *Server) handleMe(c echo.Context) error {
	email, err := s.signer.validate(bearerToken(c.Request()))
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "not logged in"})
	}

	s.mu.Lock()
	acct, ok := s.accounts[email]
	s.mu.Unlock()
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "not logged in"})
	}
	return c.JSON(http.StatusOK, echo.Map{"user": acct.profile})
}

func (s *Server) handleRegister(c echo.Context) error {
	var req struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	}
	if err := c.Bind(&req); err != nil || req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "email and password are required"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[req.Email]; exists {
		return c.JSON(http.StatusConflict, echo.Map{"message": "account already exists"})
	}
	s.accounts[req.Email] = &account{
		password: req.Password,
		profile: domain.UserProfile{
			ID:        uuid.NewString(),
			Email:     req.Email,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Role:      "user",
		},
	}
	return c.JSON(http.StatusOK, echo.Map{})
}

func (s *Server) handleVerifyCode(c echo.Context) error {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := c.Bind(&req); err != nil || req.Code != verifyCode {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid verification code"})
	}

	s.mu.Lock()
	acct, ok := s.accounts[req.Email]
	if ok {
		acct.verified = true
		acct.profile.Verified = true
	}
	s.mu.Unlock()
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"message": "unknown account"})
	}

	if err := s.openSession(c, req.Email); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "token issue failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"user": acct.profile})
}

func (s *Server) handleUpdate(c echo.Context) error {
	var patch domain.ProfilePatch
	if err := c.Bind(&patch); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid request"})
	}

	email, _ := c.Get("email").(string)
	s.mu.Lock()
	acct, ok := s.accounts[email]
	if ok {
		if patch.FirstName != nil {
			acct.profile.FirstName = *patch.FirstName
		}
		if patch.LastName != nil {
			acct.profile.LastName = *patch.LastName
		}
		if patch.Email != nil {
			acct.profile.Email = *patch.Email
		}
	}
	s.mu.Unlock()
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"message": "unknown account"})
	}
	return c.JSON(http.StatusOK, echo.Map{"user": acct.profile})
}

func (s *Server) handleResetRequest(c echo.Context) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.Bind(&req); err != nil || req.Email == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "email is required"})
	}
	return c.JSON(http.StatusOK, echo.Map{})
}

// openSession issues an access token in the response header and a refresh
// cookie, the same shape the real backend uses.
func (s *Server) openSession(c echo.Context, email string) error {
	token, err := s.signer.issue(email)
	if err != nil {
		return err
	}
	c.Response().Header().Set("Authorization", "Bearer "+token)

	refresh := uuid.NewString()
	s.mu.Lock()
	s.sessions[refresh] = email
	s.mu.Unlock()

	c.SetCookie(&http.Cookie{
		Name:     refreshCookieName,
		Value:    refresh,
		Path:     "/",
		HttpOnly: true,
	})
	return nil
}
