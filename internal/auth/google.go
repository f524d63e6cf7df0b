package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"lovepage-backend/internal/quota"
	sharedauth "lovepage-backend/internal/shared/auth"
	"lovepage-backend/internal/shared/server/respond"
	"lovepage-backend/internal/shared/telemetry"
)

const (
	userInfoURL  = "https://www.googleapis.com/oauth2/v2/userinfo"
	maxOpenState = 4096
)

// Provisioner creates the usage record for a first-time sign-in.
type Provisioner interface {
	EnsureAccount(ctx context.Context, accountID string) (quota.Account, error)
}

// GoogleService handles Google OAuth flows and issues API tokens.
type GoogleService struct {
	oauthConfig *oauth2.Config
	uiRedirect  string
	accounts    Provisioner
	adminEmails map[string]bool
	states      *expirable.LRU[string, struct{}]
	userInfoURL string
}

// GoogleOptions configures a GoogleService.
type GoogleOptions struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	UIRedirect   string
	AdminEmails  []string
	StateTTL     time.Duration
}

// NewGoogleService builds a GoogleService. accounts may be nil to skip
// provisioning at sign-in.
func NewGoogleService(opts GoogleOptions, accounts Provisioner) *GoogleService {
	if opts.StateTTL <= 0 {
		opts.StateTTL = 5 * time.Minute
	}
	admins := make(map[string]bool, len(opts.AdminEmails))
	for _, e := range opts.AdminEmails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			admins[e] = true
		}
	}
	return &GoogleService{
		oauthConfig: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		},
		uiRedirect:  opts.UIRedirect,
		accounts:    accounts,
		adminEmails: admins,
		states:      expirable.NewLRU[string, struct{}](maxOpenState, nil, opts.StateTTL),
		userInfoURL: userInfoURL,
	}
}

// RegisterRoutes attaches Google auth routes.
func (s *GoogleService) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/auth/google/start", s.start)
	rg.GET("/auth/google/callback", s.callback)
}

func (s *GoogleService) configured() bool {
	return s.oauthConfig.ClientID != "" && s.oauthConfig.ClientSecret != "" && s.oauthConfig.RedirectURL != ""
}

func (s *GoogleService) start(c *gin.Context) {
	if !s.configured() {
		respond.Error(c, http.StatusInternalServerError, "auth_not_configured", "Google auth not configured", nil)
		return
	}

	state := uuid.NewString()
	s.states.Add(state, struct{}{})
	c.Redirect(http.StatusFound, s.oauthConfig.AuthCodeURL(state))
}

func (s *GoogleService) callback(c *gin.Context) {
	state := c.Query("state")
	code := c.Query("code")
	if state == "" || code == "" {
		respond.Error(c, http.StatusBadRequest, "invalid_request", "missing state or code", nil)
		return
	}
	if !s.consumeState(state) {
		respond.Error(c, http.StatusBadRequest, "invalid_request", "invalid or expired state", nil)
		return
	}

	ctx := c.Request.Context()
	token, err := s.oauthConfig.Exchange(ctx, code)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "invalid_request", "failed to exchange code", nil)
		return
	}

	info, err := s.fetchUserInfo(ctx, s.oauthConfig.Client(ctx, token))
	if err != nil {
		telemetry.Warn("auth.google.userinfo_failed", map[string]any{"error": err.Error()})
		respond.Error(c, http.StatusBadGateway, "auth_failed", "failed to fetch user profile", nil)
		return
	}

	jwt, err := s.issueToken(ctx, info)
	if err != nil {
		if errors.Is(err, errInvalidProfile) {
			respond.Error(c, http.StatusBadGateway, "auth_failed", "invalid user profile", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to issue token", nil)
		return
	}

	redirectURL, err := appendToken(s.uiRedirect, jwt)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to redirect", nil)
		return
	}
	c.Redirect(http.StatusFound, redirectURL)
}

// consumeState accepts each issued state once, before it expires.
func (s *GoogleService) consumeState(state string) bool {
	if _, ok := s.states.Peek(state); !ok {
		return false
	}
	return s.states.Remove(state)
}

var errInvalidProfile = errors.New("invalid user profile")

// issueToken provisions the account for a verified profile and signs its
// API token. Configured admin emails get the admin role.
func (s *GoogleService) issueToken(ctx context.Context, info googleUserInfo) (string, error) {
	if info.Sub == "" {
		return "", errInvalidProfile
	}
	accountID := "google:" + info.Sub
	if s.accounts != nil {
		if _, err := s.accounts.EnsureAccount(ctx, accountID); err != nil {
			telemetry.Error("auth.google.provision_failed", map[string]any{"account_id": accountID, "error": err.Error()})
			return "", fmt.Errorf("provision account: %w", err)
		}
	}

	claims := sharedauth.Claims{
		Email:   info.Email,
		Name:    info.Name,
		Picture: info.Picture,
	}
	claims.Subject = accountID
	if info.VerifiedEmail && s.adminEmails[strings.ToLower(info.Email)] {
		claims.Role = sharedauth.RoleAdmin
	}
	telemetry.Info("auth.google.signed_in", map[string]any{"account_id": accountID, "role": claims.Role})
	return sharedauth.SignJWT(claims)
}

type googleUserInfo struct {
	Sub           string `json:"sub"`
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func (s *GoogleService) fetchUserInfo(ctx context.Context, client *http.Client) (googleUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.userInfoURL, nil)
	if err != nil {
		return googleUserInfo{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return googleUserInfo{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return googleUserInfo{}, fmt.Errorf("userinfo status %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return googleUserInfo{}, err
	}

	// Some responses use "id" instead of "sub".
	if info.Sub == "" {
		info.Sub = info.ID
	}
	return info, nil
}

func appendToken(rawURL, token string) (string, error) {
	if rawURL == "" {
		return "", errors.New("redirect url required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
