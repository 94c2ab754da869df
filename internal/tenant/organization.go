package tenant

import (
	"errors"
	"time"

	"feedbackhub/internal/tracking"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	// ErrTenantNotFound 没有任何组织匹配请求
	ErrTenantNotFound = errors.New("tenant: organization not found")
	// ErrAmbiguousTenant 同一个解析键匹配到多个组织
	ErrAmbiguousTenant = errors.New("tenant: ambiguous organization match")
	// ErrUnknownTier 组织的套餐等级无法识别
	ErrUnknownTier = errors.New("tenant: unknown tier")
)

// Tier 订阅等级，决定规范 URL 的形态
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Valid 是否为已知等级
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierBasic, TierPro, TierEnterprise:
		return true
	}
	return false
}

// Organization 租户
type Organization struct {
	ID       string `json:"id" gorm:"primaryKey;type:uuid"`
	PublicID string `json:"public_id" gorm:"size:36;uniqueIndex;not null"`
	Name     string `json:"name" gorm:"size:255;not null"`

	// 解析键
	Slug             string     `json:"slug" gorm:"size:100;uniqueIndex;not null"`
	Subdomain        string     `json:"subdomain" gorm:"size:100;uniqueIndex"`
	CustomDomain     *string    `json:"custom_domain,omitempty" gorm:"size:255;uniqueIndex"`
	DomainVerifiedAt *time.Time `json:"domain_verified_at,omitempty"`

	Tier Tier `json:"tier" gorm:"size:20;not null;default:free"`
	// URLs 历史上使用过的规范地址，等级变化时追加
	URLs datatypes.JSONSlice[string] `json:"urls,omitempty" gorm:"type:jsonb"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
	tracking.Stamps
}

// TableName 指定表名
func (Organization) TableName() string {
	return "organizations"
}

// BeforeCreate GORM 钩子
func (o *Organization) BeforeCreate(*gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.PublicID == "" {
		o.PublicID = uuid.NewString()
	}
	if o.Tier == "" {
		o.Tier = TierFree
	}
	return nil
}

func (o *Organization) EntityType() string { return "Organization" }
func (o *Organization) EntityID() string { return o.ID }

// OrganizationKey 组织自身的审计记录归属于自己
func (o *Organization) OrganizationKey() *string {
	if o.ID == "" {
		return nil
	}
	id := o.ID
	return &id
}

// VerifiedDomain 已验证的自定义域名，未验证时为空
func (o *Organization) VerifiedDomain() string {
	if o.CustomDomain == nil || *o.CustomDomain == "" || o.DomainVerifiedAt == nil {
		return ""
	}
	return NormalizeHost(*o.CustomDomain)
}

// HasVerifiedDomain 是否有已验证的自定义域名
func (o *Organization) HasVerifiedDomain() bool {
	return o.VerifiedDomain() != ""
}

// rememberURL 记录历史地址，去重
func (o *Organization) rememberURL(u string) {
	for _, existing := range o.URLs {
		if existing == u {
			return
		}
	}
	o.URLs = append(o.URLs, u)
}

// Register 向追踪注册表登记组织类型
func Register(reg *tracking.Registry) error {
	_, err := reg.Register(&Organization{}, tracking.WithVersioning(true))
	return err
}
