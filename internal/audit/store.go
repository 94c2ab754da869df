package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"feedbackhub/internal/common"
	"feedbackhub/internal/logger"

	"gorm.io/gorm"
)

// Writer 追加审计记录；tracking 引擎只依赖该接口
type Writer interface {
	Append(ctx context.Context, r *Record) error
}

// Reader 审计记录查询接口，供 HTTP Handler 与引擎的 History 使用
type Reader interface {
	Query(ctx context.Context, f Filter) ([]*Record, int64, error)
	Get(ctx context.Context, id string) (*Record, error)
}

// Filter 审计记录查询条件，结果固定按 created_at 倒序
type Filter struct {
	EntityType     string
	EntityID       string
	ActorID        string
	OrganizationID string
	Since          *time.Time
	Until          *time.Time
	Page           common.PaginationRequest
}

// Store 基于 GORM 的审计存储
type Store struct {
	db *gorm.DB
}

// NewStore 创建审计存储
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx 返回绑定到事务的存储，用于与实体写入保持原子性
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx}
}

// Append 写入一条审计记录
func (s *Store) Append(ctx context.Context, r *Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.RequestID == "" {
		r.RequestID = logger.RequestID(ctx)
	}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("audit: append %s/%s: %w", r.EntityType, r.EntityID, err)
	}
	return nil
}

// Query 按条件分页查询
func (s *Store) Query(ctx context.Context, f Filter) ([]*Record, int64, error) {
	db := s.db.WithContext(ctx).Model(&Record{}).Scopes(filterScope(f))

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var records []*Record
	err := db.Scopes(common.Paginate(f.Page)).
		Order("created_at DESC").
		Order("id DESC").
		Find(&records).Error
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// ForEntity 查询某个实体的审计历史
func (s *Store) ForEntity(ctx context.Context, entityType, entityID string, page common.PaginationRequest) ([]*Record, int64, error) {
	return s.Query(ctx, Filter{EntityType: entityType, EntityID: entityID, Page: page})
}

// ByActor 查询某个操作者产生的审计记录
func (s *Store) ByActor(ctx context.Context, actorID string, page common.PaginationRequest) ([]*Record, int64, error) {
	return s.Query(ctx, Filter{ActorID: actorID, Page: page})
}

// ByOrganization 查询某个组织范围内的审计记录
func (s *Store) ByOrganization(ctx context.Context, organizationID string, page common.PaginationRequest) ([]*Record, int64, error) {
	return s.Query(ctx, Filter{OrganizationID: organizationID, Page: page})
}

// Recent 查询时间窗口内的审计记录
func (s *Store) Recent(ctx context.Context, since, until time.Time, page common.PaginationRequest) ([]*Record, int64, error) {
	return s.Query(ctx, Filter{Since: &since, Until: &until, Page: page})
}

// Get 通过 ID 获取审计记录
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	var r Record
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ScanRange 按 (created_at, id) 正序分批遍历 [from, to) 内的记录，from 为零值表示不限
func (s *Store) ScanRange(ctx context.Context, from, to time.Time, batchSize int, fn func([]*Record) error) error {
	if batchSize <= 0 {
		batchSize = 500
	}

	var (
		lastAt time.Time
		lastID string
	)
	for {
		db := s.db.WithContext(ctx).Where("created_at < ?", to)
		if !from.IsZero() {
			db = db.Where("created_at >= ?", from)
		}
		if lastID != "" {
			db = db.Where("((created_at > ?) OR (created_at = ? AND id > ?))", lastAt, lastAt, lastID)
		}

		var batch []*Record
		if err := db.Order("created_at ASC").Order("id ASC").Limit(batchSize).Find(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < batchSize {
			return nil
		}
		last := batch[len(batch)-1]
		lastAt, lastID = last.CreatedAt, last.ID
	}
}

func filterScope(f Filter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if f.EntityType != "" {
			db = db.Where("entity_type = ?", f.EntityType)
		}
		if f.EntityID != "" {
			db = db.Where("entity_id = ?", f.EntityID)
		}
		if f.ActorID != "" {
			db = db.Where("actor_id = ?", f.ActorID)
		}
		if f.OrganizationID != "" {
			db = db.Scopes(common.ByOrganization(f.OrganizationID))
		}
		return db.Scopes(common.CreatedBetween(f.Since, f.Until))
	}
}
