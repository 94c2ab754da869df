package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedbackhub_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedbackhub_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// 租户解析指标
var (
	// TenantResolutions 租户解析结果：passed, redirected, not_found, error
	TenantResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedbackhub_tenant_resolutions_total",
			Help: "租户解析结果统计",
		},
		[]string{"outcome", "matched_by"},
	)

	// TenantLookupCache 组织查询缓存命中情况
	TenantLookupCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedbackhub_tenant_lookup_cache_total",
			Help: "组织查询缓存命中/未命中",
		},
		[]string{"result"},
	)
)

// 变更追踪指标
var (
	// AuditRecordsWritten 写入的审计记录数
	AuditRecordsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedbackhub_audit_records_written_total",
			Help: "写入的审计记录数",
		},
		[]string{"operation", "entity_type"},
	)

	// AuditWriteFailures 审计写入失败次数
	AuditWriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedbackhub_audit_write_failures_total",
			Help: "审计写入失败次数（删除路径的失败会被吞掉，仅体现在此）",
		},
		[]string{"operation", "entity_type"},
	)

	// ConcurrentModifications 乐观锁冲突次数
	ConcurrentModifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedbackhub_concurrent_modifications_total",
			Help: "版本号冲突导致的更新失败次数",
		},
		[]string{"entity_type"},
	)

	// CapabilityCache 表结构能力缓存命中情况
	CapabilityCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedbackhub_capability_cache_total",
			Help: "表结构能力缓存命中/未命中",
		},
		[]string{"result"},
	)
)
