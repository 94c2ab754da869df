package common

import (
	"time"

	"gorm.io/gorm"
)

// ByOrganization 按组织过滤（多租户查询通用 Scope）
func ByOrganization(organizationID string) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("organization_id = ?", organizationID)
	}
}

// CreatedBetween 按创建时间窗口过滤，nil 表示不限
func CreatedBetween(since, until *time.Time) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if since != nil {
			db = db.Where("created_at >= ?", *since)
		}
		if until != nil {
			db = db.Where("created_at <= ?", *until)
		}
		return db
	}
}

// Paginate 应用分页
func Paginate(p PaginationRequest) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Offset(p.GetOffset()).Limit(p.GetPageSize())
	}
}
