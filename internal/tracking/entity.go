package tracking

// Entity 参与变更追踪的业务实体
type Entity interface {
	// EntityType 逻辑类型名，例如 "FeedbackPost"
	EntityType() string
	// EntityID 实体主键，插入前为空
	EntityID() string
}

// Versioned 声明了 version 列的实体，乐观锁版本号由引擎独占维护
type Versioned interface {
	CurrentVersion() int64
	SetVersion(v int64)
}

// ActorStamped 记录 created_by/updated_by/deleted_by 的实体
type ActorStamped interface {
	SetCreatedBy(actor *string)
	SetUpdatedBy(actor *string)
	SetDeletedBy(actor *string)
}

// OrganizationScoped 归属于某个组织的实体，审计记录会带上 organization_id
type OrganizationScoped interface {
	OrganizationKey() *string
}

// AttributeSource 自行提供属性快照的实体；未实现时按 gorm 列映射反射读取
type AttributeSource interface {
	Attributes() map[string]any
}

// Versioning 可嵌入的版本号字段
type Versioning struct {
	Version int64 `json:"version" gorm:"not null;default:1"`
}

// CurrentVersion 当前版本号
func (v *Versioning) CurrentVersion() int64 { return v.Version }

// SetVersion 仅供引擎调用
func (v *Versioning) SetVersion(n int64) { v.Version = n }

// ActorStamps 可嵌入的操作者字段
type ActorStamps struct {
	CreatedBy *string `json:"created_by,omitempty" gorm:"size:64"`
	UpdatedBy *string `json:"updated_by,omitempty" gorm:"size:64"`
	DeletedBy *string `json:"deleted_by,omitempty" gorm:"size:64"`
}

func (s *ActorStamps) SetCreatedBy(actor *string) { s.CreatedBy = cloneString(actor) }
func (s *ActorStamps) SetUpdatedBy(actor *string) { s.UpdatedBy = cloneString(actor) }
func (s *ActorStamps) SetDeletedBy(actor *string) { s.DeletedBy = cloneString(actor) }

// Stamps 同时需要版本号与操作者字段的实体直接嵌入它
type Stamps struct {
	Versioning
	ActorStamps
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
