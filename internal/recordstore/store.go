// Package recordstore 基于 GORM 的记录存储，所有写操作都经过变更追踪引擎。
package recordstore

import (
	"context"
	"errors"
	"fmt"

	"feedbackhub/internal/audit"
	"feedbackhub/internal/logger"
	"feedbackhub/internal/metrics"
	"feedbackhub/internal/tracking"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("recordstore: record not found")

// Snapshot 上次读取或写入后的持久化状态，相当于 getOriginal
type Snapshot struct {
	original map[string]any
}

// Take 对实体当前状态拍快照
func Take(e tracking.Entity) (*Snapshot, error) {
	attrs, err := tracking.Attributes(e)
	if err != nil {
		return nil, err
	}
	return &Snapshot{original: attrs}, nil
}

// Original 快照副本
func (s *Snapshot) Original() map[string]any {
	out := make(map[string]any, len(s.original))
	for k, v := range s.original {
		out[k] = v
	}
	return out
}

// Version 快照中的版本号，没有 version 列时为 0
func (s *Snapshot) Version() int64 {
	v, _ := s.original[tracking.VersionColumn].(int64)
	return v
}

// Store 记录存储
type Store struct {
	db     *gorm.DB
	engine *tracking.Engine
	audit  *audit.Store
	logger *zap.Logger
}

// New 创建记录存储
func New(db *gorm.DB, engine *tracking.Engine, auditStore *audit.Store, l *zap.Logger) *Store {
	if l == nil {
		l = zap.NewNop()
	}
	return &Store{db: db, engine: engine, audit: auditStore, logger: l}
}

// DB 底层连接，仅用于只读查询
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction 工作单元：fn 内通过 tx 进行的写操作与审计一起提交或回滚
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&Store{db: db, engine: s.engine, audit: s.audit.WithTx(db), logger: s.logger})
	})
}

// Load 按主键读取实体并返回快照
func (s *Store) Load(ctx context.Context, dst tracking.Entity, id any) (*Snapshot, error) {
	err := s.db.WithContext(ctx).Where("id = ?", id).First(dst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s %v", ErrNotFound, dst.EntityType(), id)
	}
	if err != nil {
		return nil, err
	}
	return Take(dst)
}

// Create 插入实体：写操作者戳与初始版本号，并在同一事务内写创建审计
func (s *Store) Create(ctx context.Context, e tracking.Entity) (*Snapshot, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.engine.OnCreate(ctx, e); err != nil {
			return err
		}
		if err := tx.Create(e).Error; err != nil {
			return fmt.Errorf("recordstore: create %s: %w", e.EntityType(), err)
		}
		return s.engine.RecordCreated(ctx, s.audit.WithTx(tx), e)
	})
	if err != nil {
		return nil, err
	}
	return Take(e)
}

// Update 持久化实体相对 snap 的变更。
//
// 带版本号的类型以 WHERE version = 旧版本 做比较交换，影响行数为 0 时返回
// tracking.ErrConcurrentModification，审计记录随事务一起回滚。成功后 snap 更新为新状态。
func (s *Store) Update(ctx context.Context, e tracking.Entity, snap *Snapshot) (*tracking.UpdateOutcome, error) {
	if e.EntityID() == "" {
		return nil, fmt.Errorf("recordstore: update %s without primary key", e.EntityType())
	}

	var out *tracking.UpdateOutcome
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = s.engine.OnUpdate(ctx, s.audit.WithTx(tx), e, snap.original)
		if err != nil {
			return err
		}
		if out.Noop() {
			return nil
		}

		q := tx.Model(e)
		if out.Versioned {
			q = q.Where(tracking.VersionColumn+" = ?", out.PreviousVersion)
		}
		res := q.Updates(out.Fields)
		if res.Error != nil {
			return fmt.Errorf("recordstore: update %s/%s: %w", e.EntityType(), e.EntityID(), res.Error)
		}
		if res.RowsAffected == 0 {
			if out.Versioned {
				metrics.ConcurrentModifications.WithLabelValues(e.EntityType()).Inc()
				return fmt.Errorf("%w: %s/%s expected version %d",
					tracking.ErrConcurrentModification, e.EntityType(), e.EntityID(), out.PreviousVersion)
			}
			return fmt.Errorf("%w: %s/%s", ErrNotFound, e.EntityType(), e.EntityID())
		}
		return nil
	})
	if err != nil {
		if out != nil && out.Versioned {
			e.(tracking.Versioned).SetVersion(out.PreviousVersion)
		}
		logger.WithContext(ctx).Debug("更新失败",
			zap.String("entity_type", e.EntityType()),
			zap.String("entity_id", e.EntityID()),
			zap.Error(err),
		)
		return nil, err
	}

	fresh, err := Take(e)
	if err != nil {
		return nil, err
	}
	snap.original = fresh.original
	return out, nil
}

// Delete 软删除：同一事务内静默写入 deleted_by 并删除，之后再尽力写删除审计。
// 审计失败只上报，不会让删除回滚。
func (s *Store) Delete(ctx context.Context, e tracking.Entity) error {
	before, err := tracking.Attributes(e)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stamped, err := s.engine.StampDeleted(ctx, e)
		if err != nil {
			return err
		}
		if stamped {
			if err := saveQuietly(ctx, tx, e, "deleted_by"); err != nil {
				return err
			}
		}
		res := tx.Delete(e)
		if res.Error != nil {
			return fmt.Errorf("recordstore: delete %s/%s: %w", e.EntityType(), e.EntityID(), res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, e.EntityType(), e.EntityID())
		}
		return nil
	})
	if err != nil {
		return err
	}

	// 审计写在单独的保存点里：插入失败只回滚保存点，调用方所在的外层事务不受影响
	_ = s.db.WithContext(ctx).Transaction(func(sp *gorm.DB) error {
		return s.engine.RecordDeleted(ctx, s.audit.WithTx(sp), e, before)
	})
	return nil
}

// SaveQuietly 只写指定列，不经过引擎，不改版本号也不产生审计
func (s *Store) SaveQuietly(ctx context.Context, e tracking.Entity, fields ...string) error {
	return saveQuietly(ctx, s.db, e, fields...)
}

func saveQuietly(ctx context.Context, db *gorm.DB, e tracking.Entity, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	raw, err := tracking.RawAttributes(e)
	if err != nil {
		return err
	}
	values := make(map[string]any, len(fields))
	for _, f := range fields {
		v, ok := raw[f]
		if !ok {
			return fmt.Errorf("recordstore: %s has no column %q", e.EntityType(), f)
		}
		values[f] = v
	}
	err = db.WithContext(ctx).Session(&gorm.Session{SkipHooks: true}).
		Model(e).UpdateColumns(values).Error
	if err != nil {
		return fmt.Errorf("recordstore: quiet save %s/%s: %w", e.EntityType(), e.EntityID(), err)
	}
	return nil
}
