package service

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"whatsdown/internal/auth"
	"whatsdown/internal/config"
	"whatsdown/internal/db"
	"whatsdown/internal/models"

	"gorm.io/gorm"
)

const testDSN = "host=localhost user=postgres password=postgres dbname=whatsdown port=5432 sslmode=disable TimeZone=UTC"

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Connect(testDSN)
	if err != nil {
		t.Skipf("skip: db not available: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Skipf("skip: migrate failed: %v", err)
	}
	if err := db.Seed(gdb); err != nil {
		t.Skipf("skip: seed failed: %v", err)
	}
	return gdb
}

func testConfig() config.Config {
	return config.Config{
		Port: "0", JWTSecret: "test-secret", Env: "dev",
		AccessTokenTTLMinutes: 15, RefreshTokenTTLDays: 7,
	}
}

var userSeq uint64

// newUser 注册一个用户名唯一的普通用户并带权限加载回来。
func newUser(t *testing.T, gdb *gorm.DB) *models.User {
	t.Helper()
	svc := NewUserService(gdb, testConfig(), auth.NewMemoryRevokedStore())
	n := fmt.Sprintf("u%d_%d", time.Now().UnixNano(), atomic.AddUint64(&userSeq, 1))
	p, err := svc.Register(n, n+"@test.local", "password123")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return loadUser(t, gdb, p.ID)
}

// adminUser 返回播种的默认管理员，持有全部能力。
func adminUser(t *testing.T, gdb *gorm.DB) *models.User {
	t.Helper()
	var u models.User
	if err := gdb.Preload("Roles.Permissions").Where("email = ?", "admin@example.com").First(&u).Error; err != nil {
		t.Fatalf("load admin: %v", err)
	}
	return &u
}

func loadUser(t *testing.T, gdb *gorm.DB, id uint) *models.User {
	t.Helper()
	var u models.User
	if err := gdb.Preload("Roles.Permissions").First(&u, id).Error; err != nil {
		t.Fatalf("load user %d: %v", id, err)
	}
	return &u
}
