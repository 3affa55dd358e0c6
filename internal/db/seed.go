package db

import (
	"errors"

	"whatsdown/internal/authz"
	"whatsdown/internal/models"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var userPermissions = []string{
	authz.CapSendMessage,
	authz.CapViewMessages,
	authz.CapMarkAsRead,
	authz.CapUploadAttachment,
	authz.CapDownloadAttachment,
	authz.CapCreateOneOnOneChat,
}

var adminPermissions = []string{
	authz.CapSendMessage,
	authz.CapDeleteMessage,
	authz.CapCreateGroup,
	authz.CapCreateOneOnOneChat,
	authz.CapDeleteGroup,
	authz.CapAddMember,
	authz.CapRemoveMember,
	authz.CapViewMessages,
	authz.CapMarkAsRead,
	authz.CapUploadAttachment,
	authz.CapDownloadAttachment,
	authz.CapManageContacts,
}

var groupRoleNames = []string{"GROUP_OWNER", "GROUP_ADMIN", "GROUP_MEMBER"}

// Seed 写入静态参照数据：权限、角色、群内角色以及默认管理员账号。
// 权限名先对照封闭的能力枚举校验，拼错直接启动失败。
func Seed(gdb *gorm.DB) error {
	if err := authz.ValidateNames(adminPermissions); err != nil {
		return err
	}
	if err := authz.ValidateNames(userPermissions); err != nil {
		return err
	}
	return gdb.Transaction(func(tx *gorm.DB) error {
		if err := seedPermissions(tx); err != nil {
			return err
		}
		if err := seedRole(tx, "ROLE_USER", userPermissions); err != nil {
			return err
		}
		if err := seedRole(tx, "ROLE_ADMIN", adminPermissions); err != nil {
			return err
		}
		if err := seedGroupRoles(tx); err != nil {
			return err
		}
		return seedAdminUser(tx)
	})
}

func seedPermissions(tx *gorm.DB) error {
	for _, name := range adminPermissions {
		var count int64
		if err := tx.Model(&models.Permission{}).Where("name = ?", name).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			if err := tx.Create(&models.Permission{Name: name}).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

func seedRole(tx *gorm.DB, name string, permNames []string) error {
	var count int64
	if err := tx.Model(&models.Role{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	var perms []models.Permission
	if err := tx.Where("name IN ?", permNames).Find(&perms).Error; err != nil {
		return err
	}
	role := models.Role{Name: name, Permissions: perms}
	if err := tx.Create(&role).Error; err != nil {
		return err
	}
	log.Info().Str("role", name).Int("permissions", len(perms)).Msg("seed role")
	return nil
}

func seedGroupRoles(tx *gorm.DB) error {
	for _, name := range groupRoleNames {
		var count int64
		if err := tx.Model(&models.GroupRole{}).Where("name = ?", name).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			if err := tx.Create(&models.GroupRole{Name: name}).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

func seedAdminUser(tx *gorm.DB) error {
	var count int64
	if err := tx.Model(&models.User{}).Where("email = ?", "admin@example.com").Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	var adminRole models.Role
	if err := tx.Where("name = ?", "ROLE_ADMIN").First(&adminRole).Error; err != nil {
		return errors.New("seed: admin role missing")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	admin := models.User{
		Username:     "admin",
		Email:        "admin@example.com",
		PasswordHash: string(hash),
		Provider:     "local",
		Status:       models.StatusOffline,
		Roles:        []models.Role{adminRole},
	}
	if err := tx.Create(&admin).Error; err != nil {
		return err
	}
	log.Info().Str("email", admin.Email).Msg("seed default admin user")
	return nil
}
