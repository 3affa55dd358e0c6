package server

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"whatsdown/internal/auth"
	"whatsdown/internal/metrics"
	"whatsdown/internal/service"
	"whatsdown/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层与广播 hub。
type Handler struct {
	userSvc *service.UserService
	chatSvc *service.ChatService
	msgSvc  *service.MessageService
	attSvc  *service.AttachmentService
	hub     *ws.Hub
}

func NewHandler(userSvc *service.UserService, chatSvc *service.ChatService, msgSvc *service.MessageService, attSvc *service.AttachmentService, hub *ws.Hub) *Handler {
	return &Handler{userSvc: userSvc, chatSvc: chatSvc, msgSvc: msgSvc, attSvc: attSvc, hub: hub}
}

// statusOf 把业务错误分类映射到 HTTP 状态码。
func statusOf(err error) int {
	switch service.KindOf(err) {
	case service.KindUnauthorized:
		return http.StatusUnauthorized
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindInvalidArgument:
		return http.StatusBadRequest
	case service.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondErr 输出安全的错误描述；内部错误的细节只进日志。
func respondErr(c *gin.Context, err error, op string) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("op", op).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": service.Message(err)})
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if len(req.Username) < 2 || len(req.Username) > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid username"})
		return
	}
	if len(req.Password) < 4 || len(req.Password) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid password"})
		return
	}
	profile, err := h.userSvc.Register(req.Username, req.Email, req.Password)
	if err != nil {
		respondErr(c, err, "register")
		return
	}
	c.JSON(http.StatusCreated, profile)
}

// Login 处理登录请求，返回 token 对。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.Login(req.Email, req.Password)
	if err != nil {
		respondErr(c, err, "login")
		return
	}
	c.JSON(http.StatusOK, result)
}

// Refresh 处理访问令牌刷新请求。
func (h *Handler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.Refresh(req.RefreshToken)
	if err != nil {
		respondErr(c, err, "refresh")
		return
	}
	c.JSON(http.StatusOK, result)
}

// Logout 吊销当前访问令牌并删除 refresh token。
func (h *Handler) Logout(c *gin.Context) {
	user := auth.CurrentUser(c)
	token, _ := c.Get("token")
	tokenStr, _ := token.(string)
	if err := h.userSvc.Logout(user, tokenStr); err != nil {
		respondErr(c, err, "logout")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "log out successful"})
}

// ListUsers 返回全部用户的基础资料，要求持有 ROLE_USER。
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.userSvc.ListUsers()
	if err != nil {
		respondErr(c, err, "list users")
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// Me 返回当前用户资料。
func (h *Handler) Me(c *gin.Context) {
	user := auth.CurrentUser(c)
	profile, err := h.userSvc.Profile(user.ID)
	if err != nil {
		respondErr(c, err, "me")
		return
	}
	c.JSON(http.StatusOK, profile)
}

// CreateChat 创建单聊或群聊。
func (h *Handler) CreateChat(c *gin.Context) {
	var req struct {
		IsGroup bool   `json:"is_group"`
		Name    string `json:"name"`
		UserIDs []uint `json:"user_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	chat, err := h.chatSvc.Create(auth.CurrentUser(c), req.IsGroup, req.Name, req.UserIDs)
	if err != nil {
		respondErr(c, err, "create chat")
		return
	}
	c.JSON(http.StatusCreated, chat)
}

// ListChats 返回当前用户参与的全部 chat。
func (h *Handler) ListChats(c *gin.Context) {
	chats, err := h.chatSvc.List(auth.CurrentUser(c))
	if err != nil {
		respondErr(c, err, "list chats")
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// GetChat 返回单个 chat 详情。
func (h *Handler) GetChat(c *gin.Context) {
	chatID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	chat, err := h.chatSvc.Get(chatID, auth.CurrentUser(c))
	if err != nil {
		respondErr(c, err, "get chat")
		return
	}
	c.JSON(http.StatusOK, chat)
}

// AddMembers 向群聊批量添加成员。
func (h *Handler) AddMembers(c *gin.Context) {
	chatID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		UserIDs []uint `json:"user_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	chat, err := h.chatSvc.AddMembers(chatID, req.UserIDs, auth.CurrentUser(c))
	if err != nil {
		respondErr(c, err, "add members")
		return
	}
	c.JSON(http.StatusOK, chat)
}

// RemoveMember 把成员移出 chat。
func (h *Handler) RemoveMember(c *gin.Context) {
	chatID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	userID, ok := uintParam(c, "userId")
	if !ok {
		return
	}
	chat, err := h.chatSvc.RemoveMember(chatID, userID, auth.CurrentUser(c))
	if err != nil {
		respondErr(c, err, "remove member")
		return
	}
	c.JSON(http.StatusOK, chat)
}

// SendMessage 通过 REST 发送消息，入账后广播给订阅者。
func (h *Handler) SendMessage(c *gin.Context) {
	chatID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	msg, err := h.msgSvc.Send(chatID, req.Content, auth.CurrentUser(c))
	if err != nil {
		respondErr(c, err, "send message")
		return
	}
	metrics.MessagesTotal.Inc()
	h.hub.Broadcast(msg.ChatID, ws.OutboundMessage{
		Type:           "message",
		ID:             msg.ID,
		ChatID:         msg.ChatID,
		SenderID:       msg.SenderID,
		SenderUsername: msg.SenderUsername,
		Content:        msg.Content,
		IsRead:         msg.IsRead,
		Timestamp:      msg.Timestamp,
	})
	c.JSON(http.StatusCreated, msg)
}

// ListMessages 分页返回 chat 的消息，时间戳升序。
func (h *Handler) ListMessages(c *gin.Context) {
	chatID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "0"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "50"))
	msgs, err := h.msgSvc.List(chatID, page, size, auth.CurrentUser(c))
	if err != nil {
		respondErr(c, err, "list messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// MarkRead 批量置已读。
func (h *Handler) MarkRead(c *gin.Context) {
	chatID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		MessageIDs []uint `json:"message_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.msgSvc.MarkRead(chatID, req.MessageIDs, auth.CurrentUser(c)); err != nil {
		respondErr(c, err, "mark read")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "messages marked as read"})
}

// UploadAttachment 接收 multipart 文件并挂到消息上。
func (h *Handler) UploadAttachment(c *gin.Context) {
	messageID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	att, err := h.attSvc.Upload(messageID, fh.Filename, fh.Header.Get("Content-Type"), data, auth.CurrentUser(c))
	if err != nil {
		respondErr(c, err, "upload attachment")
		return
	}
	c.JSON(http.StatusCreated, att)
}

// DownloadAttachment 返回附件内容。
func (h *Handler) DownloadAttachment(c *gin.Context) {
	attachmentID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	data, att, err := h.attSvc.Download(attachmentID, auth.CurrentUser(c))
	if err != nil {
		respondErr(c, err, "download attachment")
		return
	}
	contentType := att.FileType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", `attachment; filename="`+att.FileName+`"`)
	c.Data(http.StatusOK, contentType, data)
}

func uintParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(v), true
}
