package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"whatsdown/internal/config"
	"whatsdown/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// ErrInvalidToken 是 token 校验的唯一失败结果。吊销、签名错误、格式
// 错误、过期四种原因对调用方不做区分，避免泄露探测信息；具体原因只进日志。
var ErrInvalidToken = errors.New("invalid token")

// ErrExpiredRefreshToken 表示 refresh token 已过期并被删除，需要重新登录。
var ErrExpiredRefreshToken = errors.New("refresh token expired")

type Claims struct {
	jwt.RegisteredClaims
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func VerifyPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// GenerateAccessToken 签发 HS256 访问令牌，subject 是用户的 email。
func GenerateAccessToken(email, secret string, ttlMinutes int) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlMinutes) * time.Minute)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateAccessToken 校验 token 并返回其中的 email。
// 先查吊销集合，再验签名与有效期。
func ValidateAccessToken(tokenStr, secret string, revoked RevokedStore) (string, error) {
	if revoked != nil && revoked.IsRevoked(tokenStr) {
		log.Debug().Msg("token rejected: revoked")
		return "", ErrInvalidToken
	}
	claims, err := parseClaims(tokenStr, secret)
	if err != nil {
		log.Debug().Err(err).Msg("token rejected")
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// TokenExpiry 返回 token 的过期时间，用于给吊销条目设置存活期。
// token 无法解析时返回零值。
func TokenExpiry(tokenStr, secret string) time.Time {
	claims, err := parseClaims(tokenStr, secret)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

func parseClaims(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// IssueRefreshToken 为用户签发 refresh token。每用户至多一行：
// 已有记录时原地替换 token 与有效期，而不是累积新行。
func IssueRefreshToken(gdb *gorm.DB, userID uint, ttl time.Duration) (*models.RefreshToken, error) {
	var rt models.RefreshToken
	err := gdb.Where("user_id = ?", userID).First(&rt).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	rt.UserID = userID
	rt.Token = uuid.NewString()
	rt.ExpiresAt = time.Now().Add(ttl)
	if err := gdb.Save(&rt).Error; err != nil {
		return nil, err
	}
	return &rt, nil
}

// VerifyRefreshToken 校验 refresh token 并返回其归属用户。
// 过期的记录作为副作用被删除，调用方需要让用户重新登录。
func VerifyRefreshToken(gdb *gorm.DB, token string) (*models.User, error) {
	var rt models.RefreshToken
	if err := gdb.Where("token = ?", token).First(&rt).Error; err != nil {
		return nil, ErrInvalidToken
	}
	if time.Now().After(rt.ExpiresAt) {
		_ = gdb.Delete(&rt).Error
		return nil, ErrExpiredRefreshToken
	}
	var user models.User
	if err := gdb.Preload("Roles.Permissions").First(&user, rt.UserID).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// DeleteRefreshTokens 删除用户的 refresh token（登出时调用），幂等。
func DeleteRefreshTokens(gdb *gorm.DB, userID uint) error {
	return gdb.Where("user_id = ?", userID).Delete(&models.RefreshToken{}).Error
}

// BearerToken 从 Authorization 头提取 bearer token，没有则返回空串。
func BearerToken(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}

// Middleware 校验 bearer token 并把带角色权限的用户放进请求上下文。
func Middleware(cfg config.Config, gdb *gorm.DB, revoked RevokedStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := BearerToken(c)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		email, err := ValidateAccessToken(tokenStr, cfg.JWTSecret, revoked)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		var user models.User
		if err := gdb.Preload("Roles.Permissions").Where("email = ?", email).First(&user).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}
		c.Set("user", &user)
		c.Set("token", tokenStr)
		c.Next()
	}
}

// CurrentUser 取出 Middleware 放入的用户，未认证路由上返回 nil。
func CurrentUser(c *gin.Context) *models.User {
	if v, ok := c.Get("user"); ok {
		if u, ok2 := v.(*models.User); ok2 {
			return u
		}
	}
	return nil
}
