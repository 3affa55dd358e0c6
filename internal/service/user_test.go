package service

import (
	"testing"

	"whatsdown/internal/auth"
	"whatsdown/internal/models"
)

func TestUserService_Register(t *testing.T) {
	gdb := testDB(t)
	svc := NewUserService(gdb, testConfig(), auth.NewMemoryRevokedStore())

	u := newUser(t, gdb)
	if u.Provider != "local" {
		t.Errorf("Provider = %q, want local", u.Provider)
	}
	if u.Status != models.StatusOffline {
		t.Errorf("Status = %q, want offline", u.Status)
	}
	if len(u.Roles) != 1 || u.Roles[0].Name != "ROLE_USER" {
		t.Errorf("Roles = %+v, want [ROLE_USER]", u.Roles)
	}

	// 重名注册必须拒绝
	if _, err := svc.Register(u.Username, "other@test.local", "password123"); KindOf(err) != KindConflict {
		t.Errorf("duplicate username: KindOf(err) = %v, want KindConflict", KindOf(err))
	}
	if _, err := svc.Register("someone-else", u.Email, "password123"); KindOf(err) != KindConflict {
		t.Errorf("duplicate email: KindOf(err) = %v, want KindConflict", KindOf(err))
	}
}

func TestUserService_LoginRefreshLogout(t *testing.T) {
	gdb := testDB(t)
	revoked := auth.NewMemoryRevokedStore()
	svc := NewUserService(gdb, testConfig(), revoked)
	u := newUser(t, gdb)

	if _, err := svc.Login(u.Email, "wrong-password"); KindOf(err) != KindUnauthorized {
		t.Fatalf("wrong password: KindOf(err) = %v, want KindUnauthorized", KindOf(err))
	}
	if _, err := svc.Login("nobody@test.local", "password123"); KindOf(err) != KindUnauthorized {
		t.Fatalf("unknown email: KindOf(err) = %v, want KindUnauthorized", KindOf(err))
	}

	res, err := svc.Login(u.Email, "password123")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatal("Login() returned empty tokens")
	}

	// 重复登录原地覆盖 refresh token，老的随即失效
	res2, err := svc.Login(u.Email, "password123")
	if err != nil {
		t.Fatalf("second Login() error = %v", err)
	}
	if res2.RefreshToken == res.RefreshToken {
		t.Error("second login should rotate the refresh token")
	}
	if _, err := svc.Refresh(res.RefreshToken); KindOf(err) != KindUnauthorized {
		t.Errorf("stale refresh token: KindOf(err) = %v, want KindUnauthorized", KindOf(err))
	}

	// 刷新返回新访问令牌，refresh token 原样保留
	ref, err := svc.Refresh(res2.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if ref.AccessToken == "" {
		t.Fatal("Refresh() returned empty access token")
	}
	if ref.RefreshToken != res2.RefreshToken {
		t.Error("Refresh() should keep the same refresh token")
	}

	if err := svc.Logout(u, res2.AccessToken); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if !revoked.IsRevoked(res2.AccessToken) {
		t.Error("Logout() should revoke the access token")
	}
	if _, err := svc.Refresh(res2.RefreshToken); KindOf(err) != KindUnauthorized {
		t.Errorf("refresh after logout: KindOf(err) = %v, want KindUnauthorized", KindOf(err))
	}

	// 重复登出是空操作
	if err := svc.Logout(u, res2.AccessToken); err != nil {
		t.Errorf("second Logout() error = %v", err)
	}
}

func TestUserService_SetStatus(t *testing.T) {
	gdb := testDB(t)
	svc := NewUserService(gdb, testConfig(), auth.NewMemoryRevokedStore())
	u := newUser(t, gdb)

	if err := svc.SetStatus(u.ID, models.StatusOnline); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	p, err := svc.Profile(u.ID)
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if p.Status != models.StatusOnline {
		t.Errorf("Status = %q, want online", p.Status)
	}

	if _, err := svc.Profile(0); KindOf(err) != KindNotFound {
		t.Errorf("Profile(0): KindOf(err) = %v, want KindNotFound", KindOf(err))
	}
}
