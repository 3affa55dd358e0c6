package service

import (
	"errors"

	"whatsdown/internal/authz"
	"whatsdown/internal/models"
	"whatsdown/internal/storage"

	"gorm.io/gorm"
)

// AttachmentService 管理消息附件：文件内容交给 BlobStore，
// 数据库里只存 locator 和元信息。
type AttachmentService struct {
	db    *gorm.DB
	blobs storage.BlobStore
}

func NewAttachmentService(db *gorm.DB, blobs storage.BlobStore) *AttachmentService {
	return &AttachmentService{db: db, blobs: blobs}
}

// AttachmentDTO 是对外输出的附件元数据。
type AttachmentDTO struct {
	ID        uint   `json:"id"`
	MessageID uint   `json:"message_id"`
	FileName  string `json:"file_name"`
	FileType  string `json:"file_type"`
}

// Upload 给已有消息挂一个附件。上传者必须是消息所属 chat 的成员，
// 一条消息至多一个附件。
func (s *AttachmentService) Upload(messageID uint, fileName, fileType string, data []byte, uploader *models.User) (*AttachmentDTO, error) {
	if !authz.Has(uploader, authz.CapUploadAttachment) {
		return nil, E(KindForbidden, "missing authority "+authz.CapUploadAttachment)
	}
	var msg models.Message
	if err := s.db.First(&msg, messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, E(KindNotFound, "message not found")
		}
		return nil, wrap(KindInternal, "failed to load message", err)
	}
	member, err := IsMember(s.db, msg.ChatID, uploader.ID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, E(KindForbidden, "you are not a member of this chat")
	}
	var count int64
	if err := s.db.Model(&models.Attachment{}).Where("message_id = ?", messageID).Count(&count).Error; err != nil {
		return nil, wrap(KindInternal, "failed to check attachment", err)
	}
	if count > 0 {
		return nil, E(KindConflict, "message already has an attachment")
	}

	locator, err := s.blobs.Store(fileName, data)
	if err != nil {
		return nil, wrap(KindInternal, "failed to store attachment", err)
	}
	att := models.Attachment{MessageID: messageID, FileName: fileName, FileType: fileType, Locator: locator}
	if err := s.db.Create(&att).Error; err != nil {
		return nil, wrap(KindInternal, "failed to save attachment", err)
	}
	return &AttachmentDTO{ID: att.ID, MessageID: att.MessageID, FileName: att.FileName, FileType: att.FileType}, nil
}

// Download 返回附件内容。requester 必须是附件所属消息所在 chat 的成员；
// 元数据行或底层文件缺失都算 NotFound。
func (s *AttachmentService) Download(attachmentID uint, requester *models.User) ([]byte, *AttachmentDTO, error) {
	if !authz.Has(requester, authz.CapDownloadAttachment) {
		return nil, nil, E(KindForbidden, "missing authority "+authz.CapDownloadAttachment)
	}
	var att models.Attachment
	if err := s.db.First(&att, attachmentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, E(KindNotFound, "attachment not found")
		}
		return nil, nil, wrap(KindInternal, "failed to load attachment", err)
	}
	var msg models.Message
	if err := s.db.First(&msg, att.MessageID).Error; err != nil {
		return nil, nil, wrap(KindInternal, "failed to load message", err)
	}
	member, err := IsMember(s.db, msg.ChatID, requester.ID)
	if err != nil {
		return nil, nil, err
	}
	if !member {
		return nil, nil, E(KindForbidden, "you are not a member of this chat")
	}
	data, err := s.blobs.Retrieve(att.Locator)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, E(KindNotFound, "attachment content missing")
		}
		return nil, nil, wrap(KindInternal, "failed to read attachment", err)
	}
	dto := &AttachmentDTO{ID: att.ID, MessageID: att.MessageID, FileName: att.FileName, FileType: att.FileType}
	return data, dto, nil
}
