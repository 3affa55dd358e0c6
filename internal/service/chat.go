package service

import (
	"errors"
	"strings"

	"whatsdown/internal/authz"
	"whatsdown/internal/models"

	"gorm.io/gorm"
)

// ChatService 负责 chat 生命周期与成员关系。
// 同一个 chat 上的成员变更通过 ChatLocks 串行化，防止并发丢更新。
type ChatService struct {
	db    *gorm.DB
	locks *ChatLocks
}

func NewChatService(db *gorm.DB, locks *ChatLocks) *ChatService {
	return &ChatService{db: db, locks: locks}
}

// MemberDTO 是 chat 成员的对外视图，群内角色可能为空。
type MemberDTO struct {
	ID        uint   `json:"id"`
	Username  string `json:"username"`
	Status    string `json:"status"`
	GroupRole string `json:"group_role,omitempty"`
}

// ChatDTO 是对外输出的 chat 数据。
type ChatDTO struct {
	ID      uint        `json:"id"`
	IsGroup bool        `json:"is_group"`
	Name    string      `json:"name,omitempty"`
	Members []MemberDTO `json:"members"`
}

// Create 创建 chat。requester 无论是否出现在 memberIDs 里都会成为成员；
// 群聊必须有名字，创建者自动获得 GROUP_OWNER 群内角色。
// 任一 memberID 无法解析时整个操作失败，不做部分创建。
func (s *ChatService) Create(requester *models.User, isGroup bool, name string, memberIDs []uint) (*ChatDTO, error) {
	required := authz.CapCreateOneOnOneChat
	if isGroup {
		required = authz.CapCreateGroup
	}
	if !authz.Has(requester, required) {
		return nil, E(KindForbidden, "missing authority "+required)
	}
	name = strings.TrimSpace(name)
	if isGroup && name == "" {
		return nil, E(KindInvalidArgument, "group chat must have a name")
	}

	var chatID uint
	err := s.db.Transaction(func(tx *gorm.DB) error {
		memberIDs = dedupeIDs(memberIDs, requester.ID)
		if len(memberIDs) > 0 {
			var count int64
			if err := tx.Model(&models.User{}).Where("id IN ?", memberIDs).Count(&count).Error; err != nil {
				return wrap(KindInternal, "failed to create chat", err)
			}
			if count != int64(len(memberIDs)) {
				return E(KindInvalidArgument, "some users not found")
			}
		}

		chat := models.Chat{IsGroup: isGroup}
		if isGroup {
			chat.Name = name
		}
		if err := tx.Create(&chat).Error; err != nil {
			return wrap(KindInternal, "failed to create chat", err)
		}
		chatID = chat.ID

		var ownerRoleID *uint
		if isGroup {
			var owner models.GroupRole
			if err := tx.Where("name = ?", "GROUP_OWNER").First(&owner).Error; err != nil {
				return wrap(KindInternal, "group owner role missing", err)
			}
			ownerRoleID = &owner.ID
		}
		rows := []models.ChatUser{{ChatID: chat.ID, UserID: requester.ID, GroupRoleID: ownerRoleID}}
		for _, id := range memberIDs {
			rows = append(rows, models.ChatUser{ChatID: chat.ID, UserID: id})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return wrap(KindInternal, "failed to create chat", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.load(chatID)
}

// List 返回 requester 作为成员的全部 chat，按 id 排序保证重复调用结果稳定。
func (s *ChatService) List(requester *models.User) ([]ChatDTO, error) {
	if !authz.Has(requester, authz.CapViewMessages) {
		return nil, E(KindForbidden, "missing authority "+authz.CapViewMessages)
	}
	var chats []models.Chat
	err := s.db.Joins("JOIN chat_users ON chat_users.chat_id = chats.id").
		Where("chat_users.user_id = ?", requester.ID).
		Order("chats.id").
		Find(&chats).Error
	if err != nil {
		return nil, wrap(KindInternal, "failed to list chats", err)
	}
	out := make([]ChatDTO, 0, len(chats))
	for _, c := range chats {
		dto, err := s.toDTO(&c)
		if err != nil {
			return nil, err
		}
		out = append(out, *dto)
	}
	return out, nil
}

// Get 返回单个 chat，requester 必须是成员。
func (s *ChatService) Get(chatID uint, requester *models.User) (*ChatDTO, error) {
	if !authz.Has(requester, authz.CapViewMessages) {
		return nil, E(KindForbidden, "missing authority "+authz.CapViewMessages)
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
	return s.toDTO(&chat)
}

// AddMembers 向群聊批量添加成员。任一目标用户不存在或已是成员时
// 整批拒绝，不做部分添加。
func (s *ChatService) AddMembers(chatID uint, userIDs []uint, requester *models.User) (*ChatDTO, error) {
	if !authz.Has(requester, authz.CapAddMember) {
		return nil, E(KindForbidden, "missing authority "+authz.CapAddMember)
	}
	if len(userIDs) == 0 {
		return nil, E(KindInvalidArgument, "no users to add")
	}
	unlock := s.locks.Lock(chatID)
	defer unlock()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var chat models.Chat
		if err := tx.First(&chat, chatID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return E(KindNotFound, "chat not found")
			}
			return wrap(KindInternal, "failed to load chat", err)
		}
		if !chat.IsGroup {
			return E(KindInvalidArgument, "cannot add users to a non-group chat")
		}
		userIDs = dedupeIDs(userIDs, 0)
		var count int64
		if err := tx.Model(&models.User{}).Where("id IN ?", userIDs).Count(&count).Error; err != nil {
			return wrap(KindInternal, "failed to resolve users", err)
		}
		if count != int64(len(userIDs)) {
			return E(KindInvalidArgument, "some users not found")
		}
		var existing int64
		if err := tx.Model(&models.ChatUser{}).Where("chat_id = ? AND user_id IN ?", chatID, userIDs).Count(&existing).Error; err != nil {
			return wrap(KindInternal, "failed to check membership", err)
		}
		if existing > 0 {
			return E(KindInvalidArgument, "some users are already in the chat")
		}
		rows := make([]models.ChatUser, 0, len(userIDs))
		for _, id := range userIDs {
			rows = append(rows, models.ChatUser{ChatID: chatID, UserID: id})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return wrap(KindInternal, "failed to add members", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.load(chatID)
}

// RemoveMember 把用户移出 chat。目标不是成员时返回 InvalidArgument。
func (s *ChatService) RemoveMember(chatID, userID uint, requester *models.User) (*ChatDTO, error) {
	if !authz.Has(requester, authz.CapRemoveMember) {
		return nil, E(KindForbidden, "missing authority "+authz.CapRemoveMember)
	}
	unlock := s.locks.Lock(chatID)
	defer unlock()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var chat models.Chat
		if err := tx.First(&chat, chatID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return E(KindNotFound, "chat not found")
			}
			return wrap(KindInternal, "failed to load chat", err)
		}
		var user models.User
		if err := tx.First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return E(KindNotFound, "user not found")
			}
			return wrap(KindInternal, "failed to load user", err)
		}
		res := tx.Where("chat_id = ? AND user_id = ?", chatID, userID).Delete(&models.ChatUser{})
		if res.Error != nil {
			return wrap(KindInternal, "failed to remove member", res.Error)
		}
		if res.RowsAffected == 0 {
			return E(KindInvalidArgument, "user is not a member of this chat")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.load(chatID)
}

// IsMember 判断用户当前是否是 chat 的成员。
func IsMember(gdb *gorm.DB, chatID, userID uint) (bool, error) {
	var count int64
	if err := gdb.Model(&models.ChatUser{}).Where("chat_id = ? AND user_id = ?", chatID, userID).Count(&count).Error; err != nil {
		return false, wrap(KindInternal, "failed to check membership", err)
	}
	return count > 0, nil
}

func (s *ChatService) load(chatID uint) (*ChatDTO, error) {
	var chat models.Chat
	if err := s.db.First(&chat, chatID).Error; err != nil {
		return nil, wrap(KindInternal, "failed to load chat", err)
	}
	return s.toDTO(&chat)
}

func (s *ChatService) toDTO(chat *models.Chat) (*ChatDTO, error) {
	var rows []struct {
		ID        uint
		Username  string
		Status    string
		GroupRole *string
	}
	err := s.db.Table("chat_users").
		Select("users.id, users.username, users.status, group_roles.name AS group_role").
		Joins("JOIN users ON users.id = chat_users.user_id").
		Joins("LEFT JOIN group_roles ON group_roles.id = chat_users.group_role_id").
		Where("chat_users.chat_id = ?", chat.ID).
		Order("users.id").
		Scan(&rows).Error
	if err != nil {
		return nil, wrap(KindInternal, "failed to load members", err)
	}
	members := make([]MemberDTO, 0, len(rows))
	for _, r := range rows {
		m := MemberDTO{ID: r.ID, Username: r.Username, Status: r.Status}
		if r.GroupRole != nil {
			m.GroupRole = *r.GroupRole
		}
		members = append(members, m)
	}
	return &ChatDTO{ID: chat.ID, IsGroup: chat.IsGroup, Name: chat.Name, Members: members}, nil
}

// dedupeIDs 去重并剔除 skip（requester 总是单独加入，不重复计入）。
func dedupeIDs(ids []uint, skip uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == skip {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
