package service

import (
	"errors"
	"time"

	"whatsdown/internal/authz"
	"whatsdown/internal/models"
	"whatsdown/internal/sanitize"

	"gorm.io/gorm"
)

// MessageService 负责消息的创建、分页查询与已读状态。
type MessageService struct {
	db    *gorm.DB
	locks *ChatLocks
}

func NewMessageService(db *gorm.DB, locks *ChatLocks) *MessageService {
	return &MessageService{db: db, locks: locks}
}

// MessageDTO 是对外输出的消息数据。
type MessageDTO struct {
	ID             uint      `json:"id"`
	ChatID         uint      `json:"chat_id"`
	SenderID       uint      `json:"sender_id"`
	SenderUsername string    `json:"sender_username"`
	Content        string    `json:"content"`
	IsRead         bool      `json:"is_read"`
	Timestamp      time.Time `json:"timestamp"`
}

// Send 向 chat 写入一条消息。正文先做安全清洗，时间戳取服务端时间，
// 发送者必须是 chat 的当前成员。
func (s *MessageService) Send(chatID uint, content string, sender *models.User) (*MessageDTO, error) {
	if !authz.Has(sender, authz.CapSendMessage) {
		return nil, E(KindForbidden, "missing authority "+authz.CapSendMessage)
	}
	var chat models.Chat
	if err := s.db.First(&chat, chatID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, E(KindNotFound, "chat not found")
		}
		return nil, wrap(KindInternal, "failed to load chat", err)
	}
	member, err := IsMember(s.db, chatID, sender.ID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, E(KindForbidden, "you are not a member of this chat")
	}

	msg := models.Message{
		ChatID:    chatID,
		SenderID:  sender.ID,
		Content:   sanitize.Content(content),
		IsRead:    false,
		Timestamp: time.Now().UTC(),
	}
	unlock := s.locks.Lock(chatID)
	err = s.db.Create(&msg).Error
	unlock()
	if err != nil {
		return nil, wrap(KindInternal, "failed to send message", err)
	}
	return &MessageDTO{
		ID:             msg.ID,
		ChatID:         msg.ChatID,
		SenderID:       msg.SenderID,
		SenderUsername: sender.Username,
		Content:        msg.Content,
		IsRead:         msg.IsRead,
		Timestamp:      msg.Timestamp,
	}, nil
}

// List 按时间戳升序分页返回 chat 的消息。page 从 0 开始；
// 账本不变时同样的 page/size 返回完全一致的结果。
func (s *MessageService) List(chatID uint, page, size int, requester *models.User) ([]MessageDTO, error) {
	if !authz.Has(requester, authz.CapViewMessages) {
		return nil, E(KindForbidden, "missing authority "+authz.CapViewMessages)
	}
	if page < 0 {
		page = 0
	}
	if size <= 0 || size > 200 {
		size = 50
	}
	var chat models.Chat
	if err := s.db.First(&chat, chatID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, E(KindNotFound, "chat not found")
		}
		return nil, wrap(KindInternal, "failed to load chat", err)
	}
	member, err := IsMember(s.db, chatID, requester.ID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, E(KindForbidden, "you are not a member of this chat")
	}

	var msgs []models.Message
	err = s.db.Where("chat_id = ?", chatID).
		Order("timestamp asc, id asc").
		Limit(size).
		Offset(page * size).
		Find(&msgs).Error
	if err != nil {
		return nil, wrap(KindInternal, "failed to list messages", err)
	}
	usernames, err := s.resolveUsernames(msgs)
	if err != nil {
		return nil, err
	}
	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageDTO{
			ID:             m.ID,
			ChatID:         m.ChatID,
			SenderID:       m.SenderID,
			SenderUsername: usernames[m.SenderID],
			Content:        m.Content,
			IsRead:         m.IsRead,
			Timestamp:      m.Timestamp,
		})
	}
	return out, nil
}

// MarkRead 把给定消息置为已读。单条 UPDATE 按 chat 过滤：
// 不属于该 chat 或不存在的 id 被静默忽略，重复调用结果不变。
func (s *MessageService) MarkRead(chatID uint, messageIDs []uint, requester *models.User) error {
	if !authz.Has(requester, authz.CapMarkAsRead) {
		return E(KindForbidden, "missing authority "+authz.CapMarkAsRead)
	}
	var chat models.Chat
	if err := s.db.First(&chat, chatID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return E(KindNotFound, "chat not found")
		}
		return wrap(KindInternal, "failed to load chat", err)
	}
	member, err := IsMember(s.db, chatID, requester.ID)
	if err != nil {
		return err
	}
	if !member {
		return E(KindForbidden, "you are not a member of this chat")
	}
	if len(messageIDs) == 0 {
		return nil
	}
	err = s.db.Model(&models.Message{}).
		Where("chat_id = ? AND id IN ?", chatID, messageIDs).
		Update("is_read", true).Error
	if err != nil {
		return wrap(KindInternal, "failed to mark messages as read", err)
	}
	return nil
}

// resolveUsernames 批量获取消息涉及的发送者用户名。
func (s *MessageService) resolveUsernames(msgs []models.Message) (map[uint]string, error) {
	seen := make(map[uint]struct{}, len(msgs))
	ids := make([]uint, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.SenderID]; ok {
			continue
		}
		seen[m.SenderID] = struct{}{}
		ids = append(ids, m.SenderID)
	}
	usernames := make(map[uint]string, len(ids))
	if len(ids) > 0 {
		var users []models.User
		if err := s.db.Select("id", "username").Where("id IN ?", ids).Find(&users).Error; err != nil {
			return nil, wrap(KindInternal, "failed to resolve senders", err)
		}
		for _, u := range users {
			usernames[u.ID] = u.Username
		}
	}
	return usernames, nil
}
