package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"whatsdown/internal/metrics"
)

// PublicChannel 是系统级在线状态通知的广播通道，不对应任何 chat。
const PublicChannel uint = 0

// Hub 管理 chat 级别的广播通道，实现延迟创建与并发安全。
type Hub struct {
	mu    sync.RWMutex
	chats map[uint]*ChatHub
}

func NewHub() *Hub { return &Hub{chats: make(map[uint]*ChatHub)} }

// GetChat 若通道未初始化则懒加载一个 ChatHub。
func (h *Hub) GetChat(chatID uint) *ChatHub {
	h.mu.RLock()
	ch := h.chats[chatID]
	h.mu.RUnlock()
	if ch != nil {
		return ch
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	ch = h.chats[chatID]
	if ch != nil {
		return ch
	}
	ch = NewChatHub(chatID)
	h.chats[chatID] = ch
	go ch.run()
	return ch
}

// Broadcast 把事件广播给 chat 通道的当前订阅者。没有订阅者时直接丢弃，
// 不缓存不重试（fire-and-forget）。
func (h *Hub) Broadcast(chatID uint, v interface{}) {
	h.mu.RLock()
	ch := h.chats[chatID]
	h.mu.RUnlock()
	if ch == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case ch.broadcast <- b:
	default:
	}
}

// BroadcastPublic 向公共通道发送系统通知。
func (h *Hub) BroadcastPublic(v interface{}) {
	h.Broadcast(PublicChannel, v)
}

func (h *Hub) Online(chatID uint) int {
	h.mu.RLock()
	ch := h.chats[chatID]
	h.mu.RUnlock()
	if ch == nil {
		return 0
	}
	return ch.Online()
}

// ChatHub 是单个 chat 的广播通道。register/unregister 时向订阅者
// 合成 join/leave 系统通知，这类通知不落库。
type ChatHub struct {
	chatID     uint
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	online     int32
}

func NewChatHub(chatID uint) *ChatHub {
	return &ChatHub{
		chatID:     chatID,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
	}
}

func (ch *ChatHub) run() {
	for {
		select {
		case c := <-ch.register:
			ch.clients[c] = true
			atomic.StoreInt32(&ch.online, int32(len(ch.clients)))
			metrics.WsConnections.Inc()
			if ch.chatID != PublicChannel {
				ch.fanout(systemEvent("join", ch.chatID, c.uname, c.uname+" has joined the chat."))
			}
		case c := <-ch.unregister:
			if _, ok := ch.clients[c]; ok {
				delete(ch.clients, c)
				close(c.send)
				atomic.StoreInt32(&ch.online, int32(len(ch.clients)))
				metrics.WsConnections.Dec()
				if ch.chatID != PublicChannel {
					ch.fanout(systemEvent("leave", ch.chatID, c.uname, c.uname+" has left the chat."))
				}
			}
		case msg := <-ch.broadcast:
			for c := range ch.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(ch.clients, c)
					metrics.WsConnections.Dec()
				}
			}
		}
	}
}

// fanout 在 run goroutine 内向所有订阅者投递，慢客户端被直接断开。
func (ch *ChatHub) fanout(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	for c := range ch.clients {
		select {
		case c.send <- b:
		default:
			close(c.send)
			delete(ch.clients, c)
			metrics.WsConnections.Dec()
		}
	}
}

func systemEvent(typ string, chatID uint, username, content string) map[string]interface{} {
	return map[string]interface{}{
		"type":     typ,
		"chat_id":  chatID,
		"username": username,
		"content":  content,
	}
}

// Online 返回通道当前的订阅者数量，供 REST 接口复用。
func (ch *ChatHub) Online() int { return int(atomic.LoadInt32(&ch.online)) }
