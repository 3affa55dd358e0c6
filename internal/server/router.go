package server

import (
	"net/http"
	"time"

	"whatsdown/internal/auth"
	"whatsdown/internal/authz"
	"whatsdown/internal/config"
	"whatsdown/internal/metrics"
	"whatsdown/internal/mw"
	"whatsdown/internal/service"
	"whatsdown/internal/storage"
	"whatsdown/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, gdb *gorm.DB, hub *ws.Hub, revoked auth.RevokedStore, blobs storage.BlobStore) *gin.Engine {
	locks := service.NewChatLocks()
	userSvc := service.NewUserService(gdb, cfg, revoked)
	chatSvc := service.NewChatService(gdb, locks)
	msgSvc := service.NewMessageService(gdb, locks)
	attSvc := service.NewAttachmentService(gdb, blobs)
	h := NewHandler(userSvc, chatSvc, msgSvc, attSvc, hub)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.Refresh)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.Middleware(cfg, gdb, revoked))

	authed.POST("/auth/logout", h.Logout)

	authed.GET("/users", requireAuthority("ROLE_USER"), h.ListUsers)
	authed.GET("/users/me", h.Me)

	authed.POST("/chats", h.CreateChat)
	authed.GET("/chats", h.ListChats)
	authed.GET("/chats/:id", h.GetChat)
	authed.POST("/chats/:id/members", h.AddMembers)
	authed.DELETE("/chats/:id/members/:userId", h.RemoveMember)

	authed.POST("/chats/:id/messages", h.SendMessage)
	authed.GET("/chats/:id/messages", h.ListMessages)
	authed.POST("/chats/:id/messages/read", h.MarkRead)

	authed.POST("/messages/:id/attachments", h.UploadAttachment)
	authed.GET("/attachments/:id", h.DownloadAttachment)

	r.GET("/ws", ws.Serve(hub, gdb, cfg, revoked, msgSvc, userSvc))

	return r
}

// requireAuthority 检查当前用户的权限集合是否包含指定能力或角色名。
func requireAuthority(authority string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := auth.CurrentUser(c)
		if user == nil || !authz.Has(user, authority) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "missing authority " + authority})
			return
		}
		c.Next()
	}
}
