package auth

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"library-backend/internal/platform/apierr"
)

const (
	CtxUserIDKey   = "user_id"
	CtxRoleKey     = "role"
	CtxUsernameKey = "username"
)

// RequireAuth: Authorization: Bearer <token> を検証して context に user_id/role を詰める
func RequireAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" {
			apierr.Abort(c, apierr.Unauthorized("missing Authorization header"))
			return
		}

		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			apierr.Abort(c, apierr.Unauthorized("invalid Authorization header"))
			return
		}

		tokenStr := strings.TrimSpace(parts[1])
		if tokenStr == "" {
			apierr.Abort(c, apierr.Unauthorized("empty token"))
			return
		}

		// alg 固定（none攻撃とか回避）
		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
		if err != nil || token == nil || !token.Valid {
			apierr.Abort(c, apierr.Unauthorized("invalid token"))
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			apierr.Abort(c, apierr.Unauthorized("invalid claims"))
			return
		}

		sub, _ := claims["sub"].(string)
		userID, err := strconv.ParseInt(sub, 10, 64)
		if err != nil || userID <= 0 {
			apierr.Abort(c, apierr.Unauthorized("invalid sub"))
			return
		}

		roleStr, _ := claims["role"].(string)
		role, err := ParseRole(roleStr)
		if err != nil {
			apierr.Abort(c, apierr.Unauthorized("invalid role claim"))
			return
		}
		username, _ := claims["username"].(string)

		c.Set(CtxUserIDKey, userID)
		c.Set(CtxRoleKey, role)
		c.Set(CtxUsernameKey, username)
		c.Next()
	}
}

// RequireActive: RequireAuth の後に置く。無効化されたユーザーはトークンが有効でも 401
func RequireActive(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := UserID(c)
		if !ok {
			apierr.Abort(c, apierr.Unauthorized("missing user identity"))
			return
		}
		active, err := svc.IsActive(c.Request.Context(), userID)
		if err != nil {
			apierr.Abort(c, err)
			return
		}
		if !active {
			apierr.Abort(c, apierr.Unauthorized("account is disabled"))
			return
		}
		c.Next()
	}
}

// RequireRole: 例) Admin のみ許可したい時に追加
func RequireRole(roles ...Role) gin.HandlerFunc {
	roleSet := make(map[Role]struct{}, len(roles))
	for _, r := range roles {
		roleSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		v, ok := c.Get(CtxRoleKey)
		if !ok {
			apierr.Abort(c, apierr.Forbidden("missing role"))
			return
		}
		role, ok := v.(Role)
		if !ok {
			apierr.Abort(c, apierr.Forbidden("invalid role"))
			return
		}
		if _, allowed := roleSet[role]; !allowed {
			apierr.Abort(c, apierr.Forbidden("forbidden"))
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated user id set by RequireAuth.
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(CtxUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
