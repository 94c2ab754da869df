package audit

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	// ErrEmptySnapshot 审计记录的 before/after 同时为空
	ErrEmptySnapshot = errors.New("audit: before and after are both empty")
	// ErrNotFound 审计记录不存在
	ErrNotFound = errors.New("audit: record not found")
)

// Record 审计轨迹，一次 create/update/delete 对应一条，写入后不再修改。
//
// Before/After 为空 map 与 NULL 等价：写入时 nil 存为 NULL，读取时 NULL 还原为空 map。
type Record struct {
	ID             string            `json:"id" gorm:"type:uuid;primaryKey"`
	EntityType     string            `json:"entity_type" gorm:"size:191;not null;index:idx_audit_trails_entity,priority:1"`
	EntityID       string            `json:"entity_id" gorm:"size:64;not null;index:idx_audit_trails_entity,priority:2"`
	ActorID        *string           `json:"actor_id" gorm:"size:64;index"`
	OrganizationID *string           `json:"organization_id" gorm:"size:64;index"`
	Before         datatypes.JSONMap `json:"before" gorm:"type:jsonb"`
	After          datatypes.JSONMap `json:"after" gorm:"type:jsonb"`
	RequestID      string            `json:"request_id,omitempty" gorm:"size:100"`
	CreatedAt      time.Time         `json:"created_at" gorm:"not null;index"`
}

// TableName 指定表名
func (Record) TableName() string {
	return "audit_trails"
}

// BeforeCreate GORM 钩子：补全 ID 与创建时间
func (r *Record) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return nil
}

// BeforeUpdate 审计记录不可变
func (r *Record) BeforeUpdate(*gorm.DB) error {
	return errors.New("audit: records are immutable")
}

// Validate 校验不变式
func (r *Record) Validate() error {
	if r.EntityType == "" || r.EntityID == "" {
		return errors.New("audit: entity type and id are required")
	}
	if len(r.Before) == 0 && len(r.After) == 0 {
		return ErrEmptySnapshot
	}
	return nil
}

// Operation 推断记录对应的生命周期事件
func (r *Record) Operation() string {
	switch {
	case len(r.Before) == 0:
		return OpCreate
	case len(r.After) == 0:
		return OpDelete
	default:
		return OpUpdate
	}
}

// 生命周期事件名，也用作指标标签
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Snapshot 将普通 map 转为可持久化的 JSONMap，空 map 视为 NULL
func Snapshot(m map[string]any) datatypes.JSONMap {
	if len(m) == 0 {
		return nil
	}
	out := make(datatypes.JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
