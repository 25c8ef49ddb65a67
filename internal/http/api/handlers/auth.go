package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/pixfusion/pixfusion/internal/auth"
	"github.com/pixfusion/pixfusion/internal/models"
)

// stateCookie carries the OAuth CSRF state between redirect and callback.
const stateCookie = "pf_oauth_state"

// stateCookieMaxAge bounds how long a sign-in attempt may take.
const stateCookieMaxAge = 10 * time.Minute

// GoogleExchanger is the slice of the OAuth provider the handler needs.
type GoogleExchanger interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.Profile, error)
}

// AuthHandler manages Google sign-in and the user profile endpoint.
type AuthHandler struct {
	db            *gorm.DB
	sessions      *auth.Sessions
	google        GoogleExchanger
	frontendHost  string
	secureCookies bool
}

// NewAuthHandler constructs an AuthHandler. frontendHost, when set,
// prefixes the post-login redirect so a separately hosted frontend
// receives the signed-in user.
func NewAuthHandler(db *gorm.DB, sessions *auth.Sessions, google GoogleExchanger, frontendHost string, secureCookies bool) *AuthHandler {
	return &AuthHandler{
		db:            db,
		sessions:      sessions,
		google:        google,
		frontendHost:  strings.TrimSuffix(strings.TrimSpace(frontendHost), "/"),
		secureCookies: secureCookies,
	}
}

// Login redirects the user to the Google consent page.
func (h *AuthHandler) Login(c *gin.Context) {
	state := uuid.NewString()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookie, state, int(stateCookieMaxAge.Seconds()), "/", "", h.secureCookies, true)
	c.Redirect(http.StatusFound, h.google.AuthURL(state))
}

// Callback completes the OAuth flow: it exchanges the authorization code
// for a profile, creates or updates the matching user, and sets the
// session cookie.
func (h *AuthHandler) Callback(c *gin.Context) {
	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code"})
		return
	}
	state := strings.TrimSpace(c.Query("state"))
	stateFromCookie, errState := c.Cookie(stateCookie)
	if errState != nil || state == "" || state != stateFromCookie {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid oauth state"})
		return
	}
	c.SetCookie(stateCookie, "", -1, "/", "", h.secureCookies, true)

	profile, errExchange := h.google.Exchange(c.Request.Context(), code)
	if errExchange != nil {
		log.WithError(errExchange).Warn("google exchange failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "identity exchange failed"})
		return
	}

	user, errUpsert := h.upsertUser(c.Request.Context(), profile)
	if errUpsert != nil {
		log.WithError(errUpsert).Error("upsert user failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign-in failed"})
		return
	}

	token, errIssue := h.sessions.Issue(user.ID)
	if errIssue != nil {
		log.WithError(errIssue).Error("issue session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign-in failed"})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.SessionCookie, token, int(h.sessions.Expiry().Seconds()), "/", "", h.secureCookies, true)
	c.Redirect(http.StatusFound, h.frontendHost+"/users/profile")
}

// upsertUser creates the user on first sign-in (matched by Google ID,
// then email) and refreshes profile fields on every subsequent one.
// Emails are stored lowercased so payment callbacks match regardless of
// the casing either side reports.
func (h *AuthHandler) upsertUser(ctx context.Context, profile *auth.Profile) (*models.User, error) {
	var user models.User
	now := time.Now().UTC()
	email := strings.ToLower(strings.TrimSpace(profile.Email))

	errTx := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		errFind := tx.Where("google_id = ?", profile.ID).First(&user).Error
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			errFind = tx.Where("LOWER(email) = ?", email).First(&user).Error
		}
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			user = models.User{
				ID:        uuid.NewString(),
				GoogleID:  profile.ID,
				Email:     email,
				Name:      profile.Name,
				Picture:   optionalString(profile.Picture),
				LastLogin: &now,
			}
			return tx.Create(&user).Error
		}
		if errFind != nil {
			return errFind
		}

		user.GoogleID = profile.ID
		user.Email = email
		user.Name = profile.Name
		user.Picture = optionalString(profile.Picture)
		user.LastLogin = &now
		return tx.Save(&user).Error
	})
	if errTx != nil {
		return nil, errTx
	}
	return &user, nil
}

// Profile returns the authenticated user's profile.
func (h *AuthHandler) Profile(c *gin.Context) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"email":      user.Email,
		"name":       user.Name,
		"picture":    user.Picture,
		"credits":    user.Credits,
		"created_at": user.CreatedAt,
		"last_login": user.LastLogin,
	})
}

func optionalString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
