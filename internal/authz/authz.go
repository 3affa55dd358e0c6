package authz

import (
	"fmt"

	"whatsdown/internal/models"
)

// 全部已知能力名。权限表以数据形式加载，但名字必须落在这个封闭集合内，
// 拼写错误在启动播种时就会暴露，而不是等到请求时。
const (
	CapSendMessage        = "SEND_MESSAGE"
	CapDeleteMessage      = "DELETE_MESSAGE"
	CapCreateGroup        = "CREATE_GROUP"
	CapCreateOneOnOneChat = "CREATE_ONE_ON_ONE_CHAT"
	CapDeleteGroup        = "DELETE_GROUP"
	CapAddMember          = "ADD_MEMBER"
	CapRemoveMember       = "REMOVE_MEMBER"
	CapViewMessages       = "VIEW_MESSAGES"
	CapMarkAsRead         = "MARK_AS_READ"
	CapUploadAttachment   = "UPLOAD_ATTACHMENT"
	CapDownloadAttachment = "DOWNLOAD_ATTACHMENT"
	CapManageContacts     = "MANAGE_CONTACTS"
)

var known = map[string]struct{}{
	CapSendMessage:        {},
	CapDeleteMessage:      {},
	CapCreateGroup:        {},
	CapCreateOneOnOneChat: {},
	CapDeleteGroup:        {},
	CapAddMember:          {},
	CapRemoveMember:       {},
	CapViewMessages:       {},
	CapMarkAsRead:         {},
	CapUploadAttachment:   {},
	CapDownloadAttachment: {},
	CapManageContacts:     {},
}

// ValidateNames 校验权限名是否全部属于已知能力集合。
func ValidateNames(names []string) error {
	for _, n := range names {
		if _, ok := known[n]; !ok {
			return fmt.Errorf("authz: unknown capability %q", n)
		}
	}
	return nil
}

// Authorities 计算用户的权限集合：各角色权限名的并集，外加角色名本身。
// 调用方需要预加载 Roles.Permissions。
func Authorities(u *models.User) map[string]struct{} {
	out := make(map[string]struct{})
	for _, r := range u.Roles {
		out[r.Name] = struct{}{}
		for _, p := range r.Permissions {
			out[p.Name] = struct{}{}
		}
	}
	return out
}

// Has 判断用户是否持有指定权限（或角色名）。
func Has(u *models.User, authority string) bool {
	for _, r := range u.Roles {
		if r.Name == authority {
			return true
		}
		for _, p := range r.Permissions {
			if p.Name == authority {
				return true
			}
		}
	}
	return false
}
