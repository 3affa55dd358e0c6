package service

import (
	"errors"
	"time"

	"whatsdown/internal/auth"
	"whatsdown/internal/config"
	"whatsdown/internal/models"

	"gorm.io/gorm"
)

// UserService 封装注册、登录、token 刷新与登出。
type UserService struct {
	db      *gorm.DB
	cfg     config.Config
	revoked auth.RevokedStore
}

func NewUserService(db *gorm.DB, cfg config.Config, revoked auth.RevokedStore) *UserService {
	return &UserService{db: db, cfg: cfg, revoked: revoked}
}

// ProfileDTO 是对外输出的用户资料。
type ProfileDTO struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar,omitempty"`
	Status   string `json:"status"`
	Provider string `json:"provider,omitempty"`
}

func toProfile(u *models.User) ProfileDTO {
	return ProfileDTO{ID: u.ID, Username: u.Username, Email: u.Email, Avatar: u.Avatar, Status: u.Status, Provider: u.Provider}
}

// Register 注册新用户并赋予默认角色 ROLE_USER。
func (s *UserService) Register(username, email, password string) (*ProfileDTO, error) {
	var count int64
	if err := s.db.Model(&models.User{}).Where("username = ? OR email = ?", username, email).Count(&count).Error; err != nil {
		return nil, wrap(KindInternal, "failed to create user", err)
	}
	if count > 0 {
		return nil, E(KindConflict, "username or email already taken")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, wrap(KindInternal, "failed to create user", err)
	}
	var userRole models.Role
	if err := s.db.Where("name = ?", "ROLE_USER").First(&userRole).Error; err != nil {
		return nil, wrap(KindInternal, "failed to create user", err)
	}
	user := models.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Provider:     "local",
		Status:       models.StatusOffline,
		Roles:        []models.Role{userRole},
	}
	if err := s.db.Create(&user).Error; err != nil {
		return nil, wrap(KindInternal, "failed to create user", err)
	}
	p := toProfile(&user)
	return &p, nil
}

// LoginResult 登录成功后返回的 token 对与用户资料。
type LoginResult struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	User         ProfileDTO `json:"user"`
}

// Login 校验邮箱密码并签发 token 对。
func (s *UserService) Login(email, password string) (*LoginResult, error) {
	var user models.User
	if err := s.db.Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, E(KindUnauthorized, "invalid credentials")
		}
		return nil, wrap(KindInternal, "login failed", err)
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, E(KindUnauthorized, "invalid credentials")
	}
	at, err := auth.GenerateAccessToken(user.Email, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, wrap(KindInternal, "login failed", err)
	}
	ttl := time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour
	rt, err := auth.IssueRefreshToken(s.db, user.ID, ttl)
	if err != nil {
		return nil, wrap(KindInternal, "login failed", err)
	}
	return &LoginResult{AccessToken: at, RefreshToken: rt.Token, User: toProfile(&user)}, nil
}

// RefreshResult 刷新后返回的新访问令牌。refresh token 原样保留，
// 只有过期时才要求重新登录。
type RefreshResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Refresh 验证 refresh token 并签发新的访问令牌。
func (s *UserService) Refresh(refreshToken string) (*RefreshResult, error) {
	user, err := auth.VerifyRefreshToken(s.db, refreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredRefreshToken) {
			return nil, E(KindUnauthorized, "refresh token expired, please sign in again")
		}
		return nil, E(KindUnauthorized, "invalid refresh token")
	}
	at, err := auth.GenerateAccessToken(user.Email, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, wrap(KindInternal, "refresh failed", err)
	}
	return &RefreshResult{AccessToken: at, RefreshToken: refreshToken}, nil
}

// Logout 吊销当前访问令牌并删除用户的 refresh token。重复登出是空操作。
func (s *UserService) Logout(user *models.User, accessToken string) error {
	if accessToken != "" {
		s.revoked.Revoke(accessToken, auth.TokenExpiry(accessToken, s.cfg.JWTSecret))
	}
	if err := auth.DeleteRefreshTokens(s.db, user.ID); err != nil {
		return wrap(KindInternal, "logout failed", err)
	}
	return nil
}

// ListUsers 返回全部用户的基础资料。
func (s *UserService) ListUsers() ([]ProfileDTO, error) {
	var users []models.User
	if err := s.db.Order("id").Find(&users).Error; err != nil {
		return nil, wrap(KindInternal, "failed to list users", err)
	}
	out := make([]ProfileDTO, 0, len(users))
	for i := range users {
		out = append(out, toProfile(&users[i]))
	}
	return out, nil
}

// Profile 返回单个用户资料。
func (s *UserService) Profile(userID uint) (*ProfileDTO, error) {
	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, E(KindNotFound, "user not found")
		}
		return nil, wrap(KindInternal, "failed to load user", err)
	}
	p := toProfile(&user)
	return &p, nil
}

// SetStatus 更新用户在线状态，realtime 层在连接建立与断开时调用。
func (s *UserService) SetStatus(userID uint, status string) error {
	if err := s.db.Model(&models.User{}).Where("id = ?", userID).Update("status", status).Error; err != nil {
		return wrap(KindInternal, "failed to update status", err)
	}
	return nil
}
