package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
)

const (
	AuthorizationHeader = "Authorization"
	bearer              = "Bearer "

	XUserNameHeader = "X-User-Name"
	XUserRoleHeader = "X-User-Role"
	XUserIDHeader   = "X-User-Id"
)

const (
	RoleUser  = "user"
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// Auth modes: standalone deployments validate bearer JWTs themselves;
// gateway-terminated deployments trust the upstream identity headers.
const (
	ModeJWT    = "jwt"
	ModeHeader = "header"
)

// Principal is the authenticated caller threaded through every core operation.
type Principal struct {
	UserID   int
	Username string
	Role     string
}

func (p Principal) IsStaff() bool {
	return p.Role == RoleStaff || p.Role == RoleAdmin
}

type Claims struct {
	jwt.RegisteredClaims
	Profile struct {
		UserID   int    `json:"userId"`
		Username string `json:"username"`
		Role     string `json:"role"`
	} `json:"profile"`
}

type ctxKey struct{}

func SetAuthContext(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}

// JWTKey is set from config at startup.
var JWTKey = []byte("secret")

// JwtAuthentication validates the bearer token and stores the Principal on the
// request context.
func JwtAuthentication(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authorization := c.Request().Header.Get(AuthorizationHeader)
		if authorization == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "No Authorization Header")
		}
		if !strings.HasPrefix(authorization, bearer) {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid Authorization Header")
		}
		tokenStr := strings.TrimPrefix(authorization, bearer)
		claims := new(Claims)

		token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
			return JWTKey, nil
		})
		if err != nil || !token.Valid {
			return echo.NewHTTPError(http.StatusUnauthorized, "JwtAccessDenied")
		}
		if claims.ExpiresAt != nil && time.Now().After(claims.ExpiresAt.Time) {
			return echo.NewHTTPError(http.StatusUnauthorized, "TokenExpired")
		}

		req := c.Request()
		ctx := SetAuthContext(req.Context(), Principal{
			UserID:   claims.Profile.UserID,
			Username: claims.Profile.Username,
			Role:     claims.Profile.Role,
		})
		c.SetRequest(req.WithContext(ctx))

		return next(c)
	}
}

// AuthContext trusts upstream identity headers (gateway-terminated auth).
func AuthContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		userName := req.Header.Get(XUserNameHeader)
		if userName == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "user-name is empty")
		}
		userRole := req.Header.Get(XUserRoleHeader)
		if userRole == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "user-role is empty")
		}
		userID := 0
		if v := req.Header.Get(XUserIDHeader); v != "" {
			for _, r := range v {
				if r < '0' || r > '9' {
					return echo.NewHTTPError(http.StatusUnauthorized, "user-id is invalid")
				}
				userID = userID*10 + int(r-'0')
			}
		}
		ctx := SetAuthContext(req.Context(), Principal{UserID: userID, Username: userName, Role: userRole})
		c.SetRequest(req.WithContext(ctx))
		return next(c)
	}
}

// GetPrincipal extracts the Principal stored by the auth middleware.
func GetPrincipal(c echo.Context) (Principal, error) {
	p, ok := FromContext(c.Request().Context())
	if !ok {
		return Principal{}, echo.NewHTTPError(http.StatusUnauthorized, "no auth context")
	}
	return p, nil
}
