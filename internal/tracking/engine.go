package tracking

import (
	"context"
	"fmt"

	"feedbackhub/internal/audit"
	"feedbackhub/internal/auth"
	"feedbackhub/internal/common"
	"feedbackhub/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ActorFunc 返回当前操作者 ID，匿名或系统操作返回 nil
type ActorFunc func(ctx context.Context) *string

// QuietSaver 只写指定列，不触发追踪逻辑（相当于 saveQuietly）
type QuietSaver interface {
	SaveQuietly(ctx context.Context, e Entity, fields ...string) error
}

// UpdateOutcome OnUpdate 的结果，记录存储据此落库
type UpdateOutcome struct {
	// Dirty 所有发生变化的列，包括被忽略的列
	Dirty []string
	// Changed 参与审计的变化列
	Changed []string
	// Fields 需要持久化的列与新值
	Fields          map[string]any
	Versioned       bool
	PreviousVersion int64
	VersionBumped   bool
	Audited         bool
}

// Noop 没有任何列变化
func (o *UpdateOutcome) Noop() bool {
	return len(o.Dirty) == 0
}

// Engine 变更追踪引擎：写操作者戳、维护版本号、生成审计记录
type Engine struct {
	registry     *Registry
	capabilities *CapabilityCache
	actor        ActorFunc
	reporter     ErrorReporter
	history      audit.Reader
	logger       *zap.Logger
	tracer       trace.Tracer
}

// EngineOption 引擎选项
type EngineOption func(*Engine)

// WithActorFunc 替换操作者来源，默认读取 auth.ActorID
func WithActorFunc(fn ActorFunc) EngineOption {
	return func(e *Engine) { e.actor = fn }
}

// WithCapabilityCache 未显式声明版本能力的类型通过该缓存探测 version 列
func WithCapabilityCache(c *CapabilityCache) EngineOption {
	return func(e *Engine) { e.capabilities = c }
}

// WithErrorReporter 删除审计失败的上报通道
func WithErrorReporter(r ErrorReporter) EngineOption {
	return func(e *Engine) { e.reporter = r }
}

// WithHistoryReader History 使用的审计读取器
func WithHistoryReader(r audit.Reader) EngineOption {
	return func(e *Engine) { e.history = r }
}

// WithLogger 设置日志
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine 创建引擎
func NewEngine(registry *Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		registry: registry,
		actor:    auth.ActorID,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("feedbackhub/internal/tracking"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.reporter == nil {
		e.reporter = NewLogReporter(e.logger)
	}
	return e
}

// Registry 返回注册表
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Describe 查找实体类型配置
func (e *Engine) Describe(ent Entity) (*Descriptor, error) {
	return e.registry.Descriptor(ent.EntityType())
}

// Versioned 判断实体类型是否维护 version：显式声明优先，其次探测表结构
func (e *Engine) Versioned(ctx context.Context, d *Descriptor, ent Entity) (bool, error) {
	if _, ok := ent.(Versioned); !ok {
		return false, nil
	}
	if v, ok := d.ExplicitVersioning(); ok {
		return v, nil
	}
	if e.capabilities == nil {
		return true, nil
	}
	has, err := e.capabilities.HasColumn(ctx, d.Table, VersionColumn)
	if err != nil {
		return false, fmt.Errorf("%w: inspect %s.%s: %v", ErrConfiguration, d.Table, VersionColumn, err)
	}
	return has, nil
}

// OnCreate 插入前调用：写 created_by/updated_by，version 置 1
func (e *Engine) OnCreate(ctx context.Context, ent Entity) error {
	d, err := e.Describe(ent)
	if err != nil {
		return err
	}

	if d.TrackUser {
		if actor := e.actor(ctx); actor != nil {
			stamped := ent.(ActorStamped)
			stamped.SetCreatedBy(actor)
			stamped.SetUpdatedBy(actor)
		}
	}

	versioned, err := e.Versioned(ctx, d, ent)
	if err != nil {
		return err
	}
	if versioned {
		ent.(Versioned).SetVersion(1)
	}
	return nil
}

// RecordCreated 插入后调用：before 为空、after 为过滤后的完整属性。写入失败时整个创建失败。
func (e *Engine) RecordCreated(ctx context.Context, w audit.Writer, ent Entity) error {
	d, err := e.Describe(ent)
	if err != nil {
		return err
	}
	if !d.Auditable {
		return nil
	}

	ctx, span := e.tracer.Start(ctx, "Tracking.RecordCreated", trace.WithAttributes(
		attribute.String("entity_type", d.Type),
	))
	defer span.End()

	attrs, err := Attributes(ent)
	if err != nil {
		return err
	}
	after := d.filter(attrs)
	if len(after) == 0 {
		return nil
	}

	if err := e.append(ctx, w, ent, audit.OpCreate, nil, after); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "audit append failed")
		return err
	}
	return nil
}

// OnUpdate 持久化前调用。original 为上次读取时的快照。
//
// 只有未被忽略的列发生变化时才写审计并让 version 加一；只改了忽略列时仍然返回需要落库的列，
// 但不产生审计也不改变版本号。审计写入失败返回 ErrAuditPersistence，调用方应回滚事务。
func (e *Engine) OnUpdate(ctx context.Context, w audit.Writer, ent Entity, original map[string]any) (*UpdateOutcome, error) {
	d, err := e.Describe(ent)
	if err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "Tracking.OnUpdate", trace.WithAttributes(
		attribute.String("entity_type", d.Type),
		attribute.String("entity_id", ent.EntityID()),
	))
	defer span.End()

	raw, err := RawAttributes(ent)
	if err != nil {
		return nil, err
	}
	current := normalizeAll(raw)

	out := &UpdateOutcome{Fields: make(map[string]any)}
	if out.Versioned, err = e.Versioned(ctx, d, ent); err != nil {
		return nil, err
	}
	if out.Versioned {
		out.PreviousVersion = originalVersion(original, ent.(Versioned))
		// version 由引擎独占，应用代码对它的修改一律还原
		ent.(Versioned).SetVersion(out.PreviousVersion)
		current[VersionColumn] = out.PreviousVersion
	}

	out.Dirty = Dirty(original, current)
	if out.Noop() {
		return out, nil
	}
	out.Changed = d.tracked(out.Dirty)
	for _, f := range out.Dirty {
		out.Fields[f] = raw[f]
	}

	if d.TrackUser {
		if actor := e.actor(ctx); actor != nil {
			ent.(ActorStamped).SetUpdatedBy(actor)
			out.Fields["updated_by"] = *actor
		}
	}

	if len(out.Changed) == 0 {
		span.SetAttributes(attribute.Bool("ignored_only", true))
		return out, nil
	}

	if d.Auditable {
		before := pick(normalizeAll(original), out.Changed)
		after := pick(current, out.Changed)
		if err := e.append(ctx, w, ent, audit.OpUpdate, before, after); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "audit append failed")
			return nil, err
		}
		out.Audited = true
	}

	if out.Versioned {
		ent.(Versioned).SetVersion(out.PreviousVersion + 1)
		out.Fields[VersionColumn] = out.PreviousVersion + 1
		out.VersionBumped = true
	}
	return out, nil
}

// StampDeleted 写 deleted_by，返回是否发生了修改
func (e *Engine) StampDeleted(ctx context.Context, ent Entity) (bool, error) {
	d, err := e.Describe(ent)
	if err != nil {
		return false, err
	}
	if !d.TrackUser {
		return false, nil
	}
	actor := e.actor(ctx)
	if actor == nil {
		return false, nil
	}
	ent.(ActorStamped).SetDeletedBy(actor)
	return true, nil
}

// RecordDeleted 写删除审计，before 为删除前的过滤后属性。
// 失败会上报并返回，调用方据此回滚保存点，但不能让删除失败。
func (e *Engine) RecordDeleted(ctx context.Context, w audit.Writer, ent Entity, attrs map[string]any) error {
	d, err := e.Describe(ent)
	if err != nil {
		e.reporter.ReportAuditFailure(ctx, audit.OpDelete, ent.EntityType(), ent.EntityID(), err)
		return err
	}
	if !d.AuditDeletes {
		return nil
	}

	ctx, span := e.tracer.Start(ctx, "Tracking.RecordDeleted", trace.WithAttributes(
		attribute.String("entity_type", d.Type),
		attribute.String("entity_id", ent.EntityID()),
	))
	defer span.End()

	before := d.filter(normalizeAll(attrs))
	if len(before) == 0 {
		return nil
	}
	if err := e.append(ctx, w, ent, audit.OpDelete, before, nil); err != nil {
		span.RecordError(err)
		e.reporter.ReportAuditFailure(ctx, audit.OpDelete, d.Type, ent.EntityID(), err)
		return err
	}
	return nil
}

// OnDelete 软删除前调用：写 deleted_by 并静默保存，再写删除审计。
// 审计失败不影响删除本身。
func (e *Engine) OnDelete(ctx context.Context, w audit.Writer, ent Entity, quiet QuietSaver) error {
	attrs, err := Attributes(ent)
	if err != nil {
		return err
	}
	stamped, err := e.StampDeleted(ctx, ent)
	if err != nil {
		return err
	}
	if stamped {
		if err := quiet.SaveQuietly(ctx, ent, "deleted_by"); err != nil {
			return err
		}
	}
	_ = e.RecordDeleted(ctx, w, ent, attrs)
	return nil
}

// History 实体的审计历史，按时间倒序
func (e *Engine) History(ctx context.Context, ent Entity, page common.PaginationRequest) ([]*audit.Record, int64, error) {
	if e.history == nil {
		return nil, 0, fmt.Errorf("%w: no history reader", ErrConfiguration)
	}
	return e.history.Query(ctx, audit.Filter{
		EntityType: ent.EntityType(),
		EntityID:   ent.EntityID(),
		Page:       page,
	})
}

func (e *Engine) append(ctx context.Context, w audit.Writer, ent Entity, op string, before, after map[string]any) error {
	r := &audit.Record{
		EntityType: ent.EntityType(),
		EntityID:   ent.EntityID(),
		ActorID:    e.actor(ctx),
		Before:     audit.Snapshot(before),
		After:      audit.Snapshot(after),
	}
	if scoped, ok := ent.(OrganizationScoped); ok {
		r.OrganizationID = scoped.OrganizationKey()
	}

	if err := w.Append(ctx, r); err != nil {
		if op != audit.OpDelete {
			metrics.AuditWriteFailures.WithLabelValues(op, r.EntityType).Inc()
		}
		return fmt.Errorf("%w: %v", ErrAuditPersistence, err)
	}
	metrics.AuditRecordsWritten.WithLabelValues(op, r.EntityType).Inc()
	return nil
}

func normalizeAll(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalize(v)
	}
	return out
}

func originalVersion(original map[string]any, v Versioned) int64 {
	switch n := original[VersionColumn].(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	}
	return v.CurrentVersion()
}
