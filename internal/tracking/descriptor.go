package tracking

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// BaselineIgnoredFields 始终排除在 diff 与快照之外的字段
var BaselineIgnoredFields = []string{
	"version",
	"created_at",
	"updated_at",
	"deleted_at",
	"created_by",
	"updated_by",
	"deleted_by",
}

// Descriptor 某个实体类型的追踪配置，注册后只读
type Descriptor struct {
	Type         string
	Table        string
	Auditable    bool
	AuditDeletes bool
	TrackUser    bool

	ignored    map[string]struct{}
	versioning *bool // nil 表示交给 SchemaIntrospector 判断
}

// Ignored 字段是否被排除
func (d *Descriptor) Ignored(field string) bool {
	_, ok := d.ignored[field]
	return ok
}

// IgnoredFields 排序后的排除字段列表
func (d *Descriptor) IgnoredFields() []string {
	out := make([]string, 0, len(d.ignored))
	for f := range d.ignored {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// ExplicitVersioning 注册时显式声明的版本号能力
func (d *Descriptor) ExplicitVersioning() (supported, ok bool) {
	if d.versioning == nil {
		return false, false
	}
	return *d.versioning, true
}

func (d *Descriptor) filter(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if !d.Ignored(k) {
			out[k] = v
		}
	}
	return out
}

func (d *Descriptor) tracked(fields []string) []string {
	var out []string
	for _, f := range fields {
		if !d.Ignored(f) {
			out = append(out, f)
		}
	}
	return out
}

// Option 注册选项
type Option func(*options)

type options struct {
	ignored      []string
	auditable    bool
	auditDeletes bool
	trackUser    bool
	versioning   *bool
	table        string
}

// WithIgnoredFields 追加排除字段，与基线合并
func WithIgnoredFields(fields ...string) Option {
	return func(o *options) { o.ignored = append(o.ignored, fields...) }
}

// WithoutAudit 不记录更新审计
func WithoutAudit() Option {
	return func(o *options) { o.auditable = false }
}

// WithoutDeleteAudit 删除时不写审计
func WithoutDeleteAudit() Option {
	return func(o *options) { o.auditDeletes = false }
}

// WithoutUserTracking 不写 created_by/updated_by/deleted_by
func WithoutUserTracking() Option {
	return func(o *options) { o.trackUser = false }
}

// WithVersioning 显式声明是否存在 version 列，优先于表结构探测
func WithVersioning(supported bool) Option {
	return func(o *options) { o.versioning = &supported }
}

// WithTable 指定表名，默认取 gorm 的表名推断
func WithTable(name string) Option {
	return func(o *options) { o.table = name }
}

// Registry 实体类型注册表。取代隐式的启动钩子，每个类型显式组合追踪行为。
type Registry struct {
	mu    sync.RWMutex
	types map[string]*Descriptor
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*Descriptor)}
}

// Register 注册实体类型，prototype 用于推断列名与表名
func (r *Registry) Register(prototype Entity, opts ...Option) (*Descriptor, error) {
	if prototype == nil {
		return nil, fmt.Errorf("%w: nil prototype", ErrConfiguration)
	}
	typ := strings.TrimSpace(prototype.EntityType())
	if typ == "" {
		return nil, fmt.Errorf("%w: %T has empty entity type", ErrConfiguration, prototype)
	}

	o := options{auditable: true, auditDeletes: true, trackUser: true}
	for _, opt := range opts {
		opt(&o)
	}

	cols, table, err := columns(prototype)
	if err != nil {
		return nil, err
	}
	if o.table != "" {
		table = o.table
	}

	d := &Descriptor{
		Type:         typ,
		Table:        table,
		Auditable:    o.auditable,
		AuditDeletes: o.auditDeletes,
		TrackUser:    o.trackUser,
		ignored:      make(map[string]struct{}),
		versioning:   o.versioning,
	}
	for _, f := range BaselineIgnoredFields {
		d.ignored[f] = struct{}{}
	}
	for _, f := range o.ignored {
		if _, ok := d.ignored[f]; ok {
			continue
		}
		if _, ok := cols[f]; !ok {
			return nil, fmt.Errorf("%w: %s ignores unknown field %q", ErrConfiguration, typ, f)
		}
		d.ignored[f] = struct{}{}
	}

	if o.versioning != nil && *o.versioning {
		if _, ok := prototype.(Versioned); !ok {
			return nil, fmt.Errorf("%w: %s declares versioning but has no version field", ErrConfiguration, typ)
		}
	}
	if o.trackUser {
		if _, ok := prototype.(ActorStamped); !ok {
			return nil, fmt.Errorf("%w: %s tracks users but has no actor stamps", ErrConfiguration, typ)
		}
	}
	if d.versioning == nil && d.Table == "" {
		return nil, fmt.Errorf("%w: %s needs WithTable or WithVersioning", ErrConfiguration, typ)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[typ]; exists {
		return nil, fmt.Errorf("%w: %s already registered", ErrConfiguration, typ)
	}
	r.types[typ] = d
	return d, nil
}

// MustRegister 启动阶段使用，配置错误直接 panic
func (r *Registry) MustRegister(prototype Entity, opts ...Option) *Descriptor {
	d, err := r.Register(prototype, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

// Descriptor 获取实体类型配置
func (r *Registry) Descriptor(entityType string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.types[entityType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, entityType)
	}
	return d, nil
}

// Types 已注册的类型名
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
