package ws

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"whatsdown/internal/auth"
	"whatsdown/internal/config"
	"whatsdown/internal/metrics"
	"whatsdown/internal/models"
	"whatsdown/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type Client struct {
	hub    *Hub
	room   *ChatHub
	conn   *websocket.Conn
	send   chan []byte
	db     *gorm.DB
	msgSvc *service.MessageService
	usrSvc *service.UserService
	userID uint
	uname  string
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type InboundEvent struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	IsTyping bool   `json:"is_typing"`
}

// OutboundMessage 是广播给订阅者的消息事件。
type OutboundMessage struct {
	Type           string    `json:"type"`
	ID             uint      `json:"id"`
	ChatID         uint      `json:"chat_id"`
	SenderID       uint      `json:"sender_id"`
	SenderUsername string    `json:"sender_username"`
	Content        string    `json:"content"`
	IsRead         bool      `json:"is_read"`
	Timestamp      time.Time `json:"timestamp"`
}

// Serve 处理 websocket 握手。token 在握手时校验一次（含吊销检查），
// 失败直接拒绝连接；chat_id=0 订阅公共通知通道，其余通道要求成员身份。
func Serve(h *Hub, gdb *gorm.DB, cfg config.Config, revoked auth.RevokedStore, msgSvc *service.MessageService, usrSvc *service.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		chatIDStr := c.DefaultQuery("chat_id", "0")
		cid64, err := strconv.ParseUint(chatIDStr, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat_id"})
			return
		}
		chatID := uint(cid64)

		token := c.Query("token")
		if token == "" {
			token = auth.BearerToken(c)
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		email, err := auth.ValidateAccessToken(token, cfg.JWTSecret, revoked)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		var user models.User
		if err := gdb.Preload("Roles.Permissions").Where("email = ?", email).First(&user).Error; err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}

		if chatID != PublicChannel {
			var chat models.Chat
			if err := gdb.First(&chat, chatID).Error; err != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
				return
			}
			member, err := service.IsMember(gdb, chatID, user.ID)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "membership check failed"})
				return
			}
			if !member {
				c.JSON(http.StatusForbidden, gin.H{"error": "you are not a member of this chat"})
				return
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		if err := usrSvc.SetStatus(user.ID, models.StatusOnline); err != nil {
			log.Warn().Err(err).Uint("user_id", user.ID).Msg("mark online")
		}
		room := h.GetChat(chatID)
		client := &Client{
			hub:    h,
			room:   room,
			conn:   conn,
			send:   make(chan []byte, 256),
			db:     gdb,
			msgSvc: msgSvc,
			usrSvc: usrSvc,
			userID: user.ID,
			uname:  user.Username,
		}
		room.register <- client

		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer c.disconnect()
	c.conn.SetReadLimit(1 << 20) // 1MB
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var in InboundEvent
		if err := json.Unmarshal(data, &in); err != nil {
			continue
		}
		switch in.Type {
		case "typing":
			c.hub.Broadcast(c.room.chatID, map[string]interface{}{
				"type": "typing", "chat_id": c.room.chatID, "user_id": c.userID,
				"username": c.uname, "is_typing": in.IsTyping,
			})
		case "message", "":
			if in.Content == "" || c.room.chatID == PublicChannel {
				continue
			}
			c.handleMessage(in.Content)
		}
	}
}

// handleMessage 重新解析连接归属的用户，走消息账本落库后再广播。
// 账本接受的顺序就是订阅者观察到的顺序。
func (c *Client) handleMessage(content string) {
	var sender models.User
	if err := c.db.Preload("Roles.Permissions").First(&sender, c.userID).Error; err != nil {
		c.sendError("sender not found")
		return
	}
	dto, err := c.msgSvc.Send(c.room.chatID, content, &sender)
	if err != nil {
		log.Warn().Err(err).Uint("chat_id", c.room.chatID).Uint("user_id", c.userID).Msg("ws send message")
		c.sendError(service.Message(err))
		return
	}
	metrics.WsMessagesTotal.Inc()
	c.hub.Broadcast(dto.ChatID, OutboundMessage{
		Type:           "message",
		ID:             dto.ID,
		ChatID:         dto.ChatID,
		SenderID:       dto.SenderID,
		SenderUsername: dto.SenderUsername,
		Content:        dto.Content,
		IsRead:         dto.IsRead,
		Timestamp:      dto.Timestamp,
	})
}

// sendError 只回给当前客户端，不广播。
func (c *Client) sendError(msg string) {
	b, err := json.Marshal(map[string]string{"type": "error", "error": msg})
	if err != nil {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}

// disconnect 释放订阅、尽力把用户标为离线并向公共通道发系统通知。
// 状态更新失败只记日志，不影响其他连接。
func (c *Client) disconnect() {
	c.room.unregister <- c
	_ = c.conn.Close()
	if err := c.usrSvc.SetStatus(c.userID, models.StatusOffline); err != nil {
		log.Warn().Err(err).Uint("user_id", c.userID).Msg("mark offline")
	}
	c.hub.BroadcastPublic(map[string]interface{}{
		"type":     "system",
		"username": c.uname,
		"content":  c.uname + " is now offline.",
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
