package nakama

import (
	"fmt"
	"time"

	"github.com/form3tech-oss/jwt-go"
)

type sessionClaims struct {
	UserID    string
	Username  string
	ExpiresAt time.Time
}

// parseSessionToken reads the claims Nakama puts in a session token. The
// signature is not checked; only the server can verify it.
func parseSessionToken(token string) (sessionClaims, error) {
	parsed, _, err := new(jwt.Parser).ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return sessionClaims{}, fmt.Errorf("failed to parse session token: %w", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return sessionClaims{}, fmt.Errorf("unexpected session token claims")
	}

	uid, ok := claims["uid"].(string)
	if !ok || uid == "" {
		return sessionClaims{}, fmt.Errorf("token claims missing uid")
	}
	out := sessionClaims{UserID: uid}
	out.Username, _ = claims["usn"].(string)
	if exp, ok := claims["exp"].(float64); ok {
		out.ExpiresAt = time.Unix(int64(exp), 0)
	}
	return out, nil
}
