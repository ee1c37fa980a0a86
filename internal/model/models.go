package model

import (
	"time"

	"gorm.io/gorm"
)

// Generation 对应 generations 表，每个成功产物一条记录。
// 内容目录本身仍是产物的权威目录，这张表只为图库查询服务。
type Generation struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	Filename      string         `gorm:"uniqueIndex;not null" json:"filename"`
	TemplateID    string         `gorm:"index" json:"template_id"`
	Prompt        string         `gorm:"index" json:"prompt"`
	StyleParams   string         `json:"style_params"` // 请求时的样式参数快照 (JSON)
	Quality       string         `json:"quality"`
	Size          string         `json:"size"`
	ModelUsed     string         `json:"model_used"` // 实际出图的模型（含降级）
	Width         int            `json:"width"`
	Height        int            `json:"height"`
	LocalPath     string         `json:"local_path"`
	ThumbnailPath string         `json:"thumbnail_path"`
	RemoteURL     string         `json:"remote_url"` // OSS 镜像地址，未启用时为空
	CreatedAt     time.Time      `gorm:"index" json:"created_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}
