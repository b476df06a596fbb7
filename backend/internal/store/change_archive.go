package store

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"formcollab/backend/internal/collab"
)

func InitMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// form_change_log：被接受变更的审计留痕。
// 写入在提交链路之外异步进行，丢一条不影响协作正确性。
type FormChangeLog struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	FormID        string `gorm:"size:64;index:idx_form_version"`
	VersionNumber uint64 `gorm:"index:idx_form_version"`
	ChangeID      string `gorm:"size:64;uniqueIndex"`
	FieldID       string `gorm:"size:64"`
	FieldKey      string `gorm:"size:128"`
	ChangeType    string `gorm:"size:16"`
	UserID        uint64 `gorm:"index"`
	Payload       string `gorm:"type:text"` // 解决后变更的完整 JSON
	AppliedAt     time.Time
	CreatedAt     time.Time
}

func (FormChangeLog) TableName() string { return "form_change_log" }

type ChangeArchive struct{ db *gorm.DB }

func NewChangeArchive(db *gorm.DB) (*ChangeArchive, error) {
	if err := db.AutoMigrate(&FormChangeLog{}); err != nil {
		return nil, err
	}
	return &ChangeArchive{db: db}, nil
}

func (a *ChangeArchive) ArchiveChange(ctx context.Context, formID string, version uint64, ch collab.FieldChange) error {
	payload, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	row := FormChangeLog{
		FormID:        formID,
		VersionNumber: version,
		ChangeID:      ch.ChangeID,
		FieldID:       ch.FieldID,
		FieldKey:      ch.FieldKey,
		ChangeType:    string(ch.ChangeType),
		UserID:        ch.UserID,
		Payload:       string(payload),
		AppliedAt:     ch.AppliedAt,
	}
	return a.db.WithContext(ctx).Create(&row).Error
}
