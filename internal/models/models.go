package models

import "time"

// 用户状态取值。
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	Email        string `gorm:"uniqueIndex;size:128;not null"`
	PasswordHash string
	Provider     string `gorm:"size:32"`
	Avatar       string `gorm:"size:256"`
	Status       string `gorm:"size:16;not null;default:offline"`
	Roles        []Role `gorm:"many2many:user_roles"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Permission 是具名能力，如 SEND_MESSAGE、ADD_MEMBER。
type Permission struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex;size:64;not null"`
}

// Role 是全局角色，携带一组权限。
type Role struct {
	ID          uint         `gorm:"primaryKey"`
	Name        string       `gorm:"uniqueIndex;size:64;not null"`
	Permissions []Permission `gorm:"many2many:role_permissions"`
}

// GroupRole 是群聊内的成员角色（GROUP_OWNER 等），与全局 Role 无关。
type GroupRole struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex;size:64;not null"`
}

type Chat struct {
	ID        uint   `gorm:"primaryKey"`
	IsGroup   bool   `gorm:"not null"`
	Name      string `gorm:"size:128"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChatUser 是 chat 与 user 的成员关系行，存在即表示当前是成员。
type ChatUser struct {
	ChatID      uint `gorm:"primaryKey;autoIncrement:false"`
	UserID      uint `gorm:"primaryKey;autoIncrement:false"`
	GroupRoleID *uint
	CreatedAt   time.Time
}

type Message struct {
	ID        uint      `gorm:"primaryKey"`
	ChatID    uint      `gorm:"index:idx_msg_chat;not null"`
	SenderID  uint      `gorm:"index;not null"`
	Content   string    `gorm:"type:text;not null"`
	IsRead    bool      `gorm:"not null;default:false"`
	Timestamp time.Time `gorm:"index:idx_msg_chat;not null"`
	CreatedAt time.Time
}

// Attachment 与 Message 一对一，Locator 指向 blob 存储中的文件。
type Attachment struct {
	ID        uint   `gorm:"primaryKey"`
	MessageID uint   `gorm:"uniqueIndex;not null"`
	FileName  string `gorm:"size:256;not null"`
	FileType  string `gorm:"size:128"`
	Locator   string `gorm:"size:256;not null"`
	CreatedAt time.Time
}

// RefreshToken 每用户至多一行，签发新 token 时原地覆盖。
type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"uniqueIndex;not null"`
	Token     string    `gorm:"uniqueIndex;size:64;not null"`
	ExpiresAt time.Time `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
