package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"whatsdown/internal/auth"
	"whatsdown/internal/config"
	"whatsdown/internal/db"
	"whatsdown/internal/storage"
	"whatsdown/internal/ws"

	"github.com/gin-gonic/gin"
)

func testRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Config{Port: "0", JWTSecret: "test-secret", Env: "dev", AccessTokenTTLMinutes: 15, RefreshTokenTTLDays: 7}
	gdb, err := db.Connect("host=localhost user=postgres password=postgres dbname=whatsdown port=5432 sslmode=disable TimeZone=UTC")
	if err != nil {
		t.Skipf("skip: db not available: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Skipf("skip: migrate failed: %v", err)
	}
	if err := db.Seed(gdb); err != nil {
		t.Skipf("skip: seed failed: %v", err)
	}
	blobs, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	return SetupRouter(cfg, gdb, ws.NewHub(), auth.NewMemoryRevokedStore(), blobs)
}

func TestHealthz(t *testing.T) {
	engine := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestAuthFlow(t *testing.T) {
	engine := testRouter(t)
	name := fmt.Sprintf("router%d", time.Now().UnixNano())

	body := fmt.Sprintf(`{"username":%q,"email":%q,"password":"password123"}`, name, name+"@test.local")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, jsonReq(http.MethodPost, "/api/v1/auth/register", body))
	if w.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	body = fmt.Sprintf(`{"email":%q,"password":"password123"}`, name+"@test.local")
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, jsonReq(http.MethodPost, "/api/v1/auth/login", body))
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var login struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &login); err != nil {
		t.Fatalf("login response: %v", err)
	}
	if login.AccessToken == "" || login.RefreshToken == "" {
		t.Fatal("login response missing tokens")
	}

	// Bearer token 才能访问业务接口
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, jsonReq(http.MethodGet, "/api/v1/users/me", ""))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("me without token: expected 401, got %d", w.Code)
	}

	req := jsonReq(http.MethodGet, "/api/v1/users/me", "")
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// 登出后同一个 token 立即失效
	req = jsonReq(http.MethodPost, "/api/v1/auth/logout", "")
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	req = jsonReq(http.MethodGet, "/api/v1/users/me", "")
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("me after logout: expected 401, got %d", w.Code)
	}
}

func jsonReq(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}
