package devbackend

import (
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/xlzd/gotp"

	apperrors "github.com/tendant/phone-login/pkg/errors"
	"github.com/tendant/phone-login/pkg/network"
	"github.com/tendant/phone-login/pkg/ratelimit"
)

const generationClaim = "gen"

type phoneNumberRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type phoneLoginRequest struct {
	OTP         string `json:"otp"`
	PhoneNumber string `json:"phoneNumber"`
}

type appUserResponse struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
}

type registrationResponse struct {
	AppUser appUserResponse `json:"appUser"`
}

type tokenClaims struct {
	Project    string `json:"project"`
	Role       string `json:"role"`
	Generation string `json:"gen"`
	jwt.RegisteredClaims
}

// Router returns a router serving all routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	s.RegisterRoutes(r)
	return r
}

// RegisterRoutes mounts the API on r.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(jwtauth.Verifier(s.jwtAuth))
		if s.rateLimit != nil {
			r.Use(ratelimit.NewMiddleware(s.rateLimit).Handler)
		}

		r.Post("/apps/{appID}/users", s.registerAppUser)
		r.Get("/tokens", s.fetchToken)

		r.Group(func(r chi.Router) {
			r.Use(jwtauth.Authenticator(s.jwtAuth))
			r.Use(s.requireCurrentGeneration)

			r.Post("/{appID}/phone/auth", s.requestCode)
			r.Post("/{appID}/verification/sms", s.requestCode)
			r.Post("/{appID}/phone/login", s.login)
			r.Post("/{appID}/verification/sms/otp", s.login)
			r.Delete("/{appID}/phone/users", s.deleteAccount)
			r.Post("/{appID}/verification/sms/delete", s.deleteAccount)
		})
	})
}

// (POST /apps/{appID}/users)
func (s *Server) registerAppUser(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "appID") != s.config.AppID {
		s.renderError(w, r, apperrors.NotFound("app", chi.URLParam(r, "appID")))
		return
	}
	if _, err := s.verifyBasicAuth(r, 2); err != nil {
		s.renderError(w, r, err)
		return
	}

	user := appUserResponse{ID: uuid.NewString(), Secret: gotp.RandomSecret(32)}
	s.mu.Lock()
	s.users[user.ID] = user.Secret
	s.mu.Unlock()
	s.registrations.Add(1)

	s.logger.Info("Registered app user", "app_user_id", user.ID, "project", r.URL.Query().Get("project"))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, registrationResponse{AppUser: user})
}

// (GET /tokens)
func (s *Server) fetchToken(w http.ResponseWriter, r *http.Request) {
	parts, err := s.verifyBasicAuth(r, 4)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	userID, secret := parts[2], parts[3]

	s.mu.Lock()
	known, ok := s.users[userID]
	generation := s.generation
	s.mu.Unlock()
	if !ok || known != secret {
		s.renderError(w, r, apperrors.Unauthorized("unknown app user"))
		return
	}

	project := r.URL.Query().Get("project")
	if project == "" {
		s.renderError(w, r, apperrors.InvalidInput("project", "required"))
		return
	}
	if s.config.ProjectID != "" && project != s.config.ProjectID {
		s.renderError(w, r, apperrors.NotFound("project", project))
		return
	}
	role := r.URL.Query().Get("role")
	if role == "" {
		role = string(network.ScopeRetailerApp)
	}

	token, err := s.mintToken(userID, project, role, generation)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.tokenFetches.Add(1)

	render.JSON(w, r, token)
}

func (s *Server) mintToken(userID, project, role, generation string) (network.Token, error) {
	now := time.Now()
	expiresAt := now.Add(s.config.TokenTTL)
	claims := tokenClaims{
		Project:    project,
		Role:       role,
		Generation: generation,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.config.AppID,
			Subject:   userID,
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return network.Token{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to sign token")
	}
	return network.Token{
		ID:        claims.ID,
		Value:     signed,
		IssuedAt:  network.NewTimestamp(now),
		ExpiresAt: network.NewTimestamp(expiresAt),
	}, nil
}

// (POST /{appID}/phone/auth)
func (s *Server) requestCode(w http.ResponseWriter, r *http.Request) {
	var data phoneNumberRequest
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		s.renderError(w, r, apperrors.InvalidInput("body", "unable to parse body"))
		return
	}
	if err := validatePhoneNumber(data.PhoneNumber); err != nil {
		s.renderError(w, r, err)
		return
	}
	if !s.codeLimiter.Allow(data.PhoneNumber) {
		s.renderError(w, r, apperrors.RateLimitExceeded("30"))
		return
	}

	code := s.config.FixedCode
	if code == "" {
		code = gotp.NewDefaultTOTP(gotp.RandomSecret(16)).Now()
	}
	s.mu.Lock()
	s.codes[data.PhoneNumber] = pendingCode{code: code, expiresAt: time.Now().Add(s.config.CodeTTL)}
	s.mu.Unlock()

	if err := s.sender.SendCode(r.Context(), data.PhoneNumber, code); err != nil {
		s.mu.Lock()
		delete(s.codes, data.PhoneNumber)
		s.mu.Unlock()
		s.renderError(w, r, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to send code"))
		return
	}
	s.codesSent.Add(1)

	w.WriteHeader(http.StatusNoContent)
}

// (POST /{appID}/phone/login)
// A wrong or expired code is answered with an empty body.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var data phoneLoginRequest
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		s.renderError(w, r, apperrors.InvalidInput("body", "unable to parse body"))
		return
	}
	if err := validatePhoneNumber(data.PhoneNumber); err != nil {
		s.renderError(w, r, err)
		return
	}
	callerID := subject(r)

	s.mu.Lock()
	pending, ok := s.codes[data.PhoneNumber]
	if !ok || time.Now().After(pending.expiresAt) || pending.code != data.OTP {
		s.mu.Unlock()
		s.logger.Info("Rejected one-time code", "phone_number", data.PhoneNumber)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	delete(s.codes, data.PhoneNumber)
	accountID, bound := s.accounts[data.PhoneNumber]
	if !bound {
		accountID = callerID
		s.accounts[data.PhoneNumber] = accountID
	}
	user := appUserResponse{ID: accountID, Secret: s.users[accountID]}
	s.mu.Unlock()
	s.logins.Add(1)

	s.logger.Info("Phone login", "phone_number", data.PhoneNumber, "app_user_id", accountID, "new_account", !bound)
	render.JSON(w, r, user)
}

// (DELETE /{appID}/phone/users)
func (s *Server) deleteAccount(w http.ResponseWriter, r *http.Request) {
	var data phoneNumberRequest
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		s.renderError(w, r, apperrors.InvalidInput("body", "unable to parse body"))
		return
	}

	s.mu.Lock()
	accountID, ok := s.accounts[data.PhoneNumber]
	if ok && accountID == subject(r) {
		delete(s.accounts, data.PhoneNumber)
	}
	s.mu.Unlock()
	if !ok {
		s.renderError(w, r, apperrors.NotFound("account", data.PhoneNumber))
		return
	}
	if accountID != subject(r) {
		s.renderError(w, r, apperrors.Unauthorized("account belongs to another app user"))
		return
	}
	s.deletions.Add(1)

	s.logger.Info("Deleted account", "phone_number", data.PhoneNumber, "app_user_id", accountID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) requireCurrentGeneration(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, claims, err := jwtauth.FromContext(r.Context())
		if err != nil {
			s.renderError(w, r, apperrors.Unauthorized("invalid token"))
			return
		}
		generation, _ := claims[generationClaim].(string)
		s.mu.Lock()
		current := s.generation
		s.mu.Unlock()
		if generation != current {
			s.renderError(w, r, apperrors.Unauthorized("token revoked"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// verifyBasicAuth checks "<appId>:<passcode>[:...]" and returns its parts.
func (s *Server) verifyBasicAuth(r *http.Request, wantParts int) ([]string, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Basic ") {
		return nil, apperrors.Unauthorized("missing basic authorization")
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, "Basic "))
	if err != nil {
		return nil, apperrors.Unauthorized("malformed basic authorization")
	}
	parts := strings.Split(string(decoded), ":")
	if len(parts) != wantParts {
		return nil, apperrors.Unauthorized("malformed basic authorization")
	}
	if parts[0] != s.config.AppID {
		return nil, apperrors.Unauthorized("unknown app")
	}
	valid, err := totp.ValidateCustom(parts[1], s.config.AppSecret, time.Now().UTC(), network.PasscodeOptions)
	if err != nil || !valid {
		return nil, apperrors.Unauthorized("invalid passcode")
	}
	return parts, nil
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	if e, ok := err.(*apperrors.Error); ok {
		status = e.HTTPStatusCode()
	}
	s.logger.Warn("Request failed", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)

	render.Status(r, status)
	render.JSON(w, r, map[string]string{
		"error":   string(apperrors.GetCode(err)),
		"message": err.Error(),
	})
}

func subject(r *http.Request) string {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil {
		return ""
	}
	sub, _ := claims["sub"].(string)
	return sub
}

func validatePhoneNumber(phoneNumber string) error {
	if !strings.HasPrefix(phoneNumber, "+") || len(phoneNumber) < 4 {
		return apperrors.InvalidInput("phoneNumber", "expected international format")
	}
	return nil
}

func newGeneration() string {
	return uuid.NewString()
}
