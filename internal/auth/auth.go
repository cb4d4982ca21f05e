package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"eduexam/internal/app/apiresp"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey int

const userKey ctxKey = 0

// Identity is the trusted caller identity supplied by the auth gateway.
// The exam core never validates credentials itself; it only parses the
// bearer token the gateway issued.
type Identity struct {
	UserID string
	Role   string
}

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Verifier struct {
	hmac []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{hmac: []byte(secret)}
}

func (v *Verifier) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return v.hmac, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenUnverifiable
	}
	c, _ := token.Claims.(*Claims)
	return c, nil
}

// Issue signs a token for the given identity. Used by tests and by
// development tooling; production tokens come from the auth gateway.
func (v *Verifier) Issue(userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.hmac)
}

func (v *Verifier) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			apiresp.WriteError(w, r, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := v.Parse(strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			apiresp.WriteError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		if strings.TrimSpace(claims.Subject) == "" {
			apiresp.WriteError(w, r, http.StatusUnauthorized, "token has no subject")
			return
		}
		ident := Identity{UserID: claims.Subject, Role: claims.Role}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, ident)))
	})
}

func RequireRoles(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident, ok := CurrentUser(r.Context())
			if !ok {
				apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			if _, ok := allowed[ident.Role]; !ok {
				apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func CurrentUser(ctx context.Context) (Identity, bool) {
	ident, ok := ctx.Value(userKey).(Identity)
	return ident, ok
}

// WithUser injects an identity directly. Handler tests use this to skip
// token parsing.
func WithUser(ctx context.Context, ident Identity) context.Context {
	return context.WithValue(ctx, userKey, ident)
}
