package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/pixfusion/pixfusion/internal/models"
)

// userContextKey stores the authenticated user on the gin context.
const userContextKey = "auth.user"

// RequireUser validates the session cookie and loads the user record.
// Requests without a valid session receive 401; a session pointing at a
// deleted user receives 404.
func RequireUser(sessions *Sessions, conn *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie, errCookie := c.Cookie(SessionCookie)
		if errCookie != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		userID, errVerify := sessions.Verify(cookie)
		if errVerify != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			return
		}

		var user models.User
		errFind := conn.WithContext(c.Request.Context()).Where("id = ?", userID).First(&user).Error
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		if errFind != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "load user failed"})
			return
		}

		c.Set(userContextKey, &user)
		c.Next()
	}
}

// CurrentUser returns the user loaded by RequireUser.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	value, ok := c.Get(userContextKey)
	if !ok {
		return nil, false
	}
	user, ok := value.(*models.User)
	return user, ok
}
