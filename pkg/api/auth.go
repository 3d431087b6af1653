package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/atlas-agent/atlas/pkg/config"
)

const (
	// SessionCookie is the name of the signed session cookie.
	SessionCookie = "atlas_session"

	// SessionDuration is how long a login stays valid.
	SessionDuration = 7 * 24 * time.Hour

	userIDKey = "user_id"
)

// SignSession produces a tamper-evident session token: the user id and
// expiry, authenticated with an HMAC over both. No server-side session
// storage is involved.
func SignSession(secret, userID string, expiry time.Time) string {
	payload := fmt.Sprintf("%s|%d", userID, expiry.Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	sig := hex.EncodeToString(mac.Sum(nil))
	return base64.URLEncoding.EncodeToString([]byte(payload + "|" + sig))
}

// ParseSession validates a session token and returns the user id.
func ParseSession(secret, token string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("malformed session token")
	}
	parts := strings.Split(string(raw), "|")
	if len(parts) != 3 {
		return "", fmt.Errorf("malformed session token")
	}
	userID, expiryRaw, sig := parts[0], parts[1], parts[2]

	payload := userID + "|" + expiryRaw
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return "", fmt.Errorf("invalid session signature")
	}

	expiry, err := strconv.ParseInt(expiryRaw, 10, 64)
	if err != nil {
		return "", fmt.Errorf("malformed session token")
	}
	if time.Now().Unix() > expiry {
		return "", fmt.Errorf("session expired")
	}
	if userID == "" {
		return "", fmt.Errorf("empty user id in session")
	}
	return userID, nil
}

// authRequired rejects requests without a valid session cookie and stores
// the authenticated user id on the context.
func authRequired(flags *config.Flags) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(SessionCookie)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "oturum açmanız gerekiyor"})
			return
		}
		userID, err := ParseSession(flags.SessionSecret, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "oturum geçersiz veya süresi dolmuş"})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// internalOnly enforces the access whitelist. The rejection carries no state
// change and no hint about the whitelist contents.
func internalOnly(flags *config.Flags) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(userIDKey)
		if !flags.Whitelisted(userID) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "erişim kapalı"})
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) string {
	return c.GetString(userIDKey)
}
