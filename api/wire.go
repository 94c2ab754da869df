package api

import (
	"errors"
	"os"
	"strings"

	auditHandlers "feedbackhub/api/handlers/audit"
	tenantHandlers "feedbackhub/api/handlers/tenant"
	"feedbackhub/internal/audit"
	"feedbackhub/internal/auth"
	"feedbackhub/internal/config"
	"feedbackhub/internal/feedback"
	"feedbackhub/internal/infra"
	"feedbackhub/internal/logger"
	"feedbackhub/internal/recordstore"
	"feedbackhub/internal/tenant"
	"feedbackhub/internal/tracking"
	"feedbackhub/internal/worker"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AppContainer 应用依赖容器
type AppContainer struct {
	DB     *gorm.DB
	Config *config.Config
	Redis  redis.UniversalClient // 未配置时为 nil
	Logger *zap.Logger

	// 变更追踪
	Registry    *tracking.Registry
	Engine      *tracking.Engine
	AuditStore  *audit.Store
	RecordStore *recordstore.Store
	Archiver    *audit.Archiver

	// 租户
	OrgRepo       tenant.Repository
	Resolver      *tenant.Resolver
	TenantService *tenant.Service

	// 业务
	PostService *feedback.PostService

	JWTService *auth.JWTService
	Enqueuer   *worker.Enqueuer // Redis 未配置时为 nil

	// Handlers
	AuditHandler  *auditHandlers.AuditHandler
	TenantHandler *tenantHandlers.TenantHandler
}

// Models 需要迁移的全部模型
func Models() []any {
	models := []any{&audit.Record{}, &tenant.Organization{}}
	return append(models, feedback.Models()...)
}

// InitContainer 初始化依赖容器。rdb 可以为 nil，此时缓存与任务队列关闭。
func InitContainer(db *gorm.DB, cfg *config.Config, rdb redis.UniversalClient) (*AppContainer, error) {
	log := logger.Get()
	c := &AppContainer{
		DB:     db,
		Config: cfg,
		Redis:  rdb,
		Logger: log,
	}

	if cfg.Database.AutoMigrate {
		if err := infra.AutoMigrate(db, Models()...); err != nil {
			return nil, err
		}
	}

	// 实体类型注册，配置错误在启动时暴露
	c.Registry = tracking.NewRegistry()
	if err := tenant.Register(c.Registry); err != nil {
		return nil, err
	}
	if err := feedback.Register(c.Registry); err != nil {
		return nil, err
	}

	c.AuditStore = audit.NewStore(db)
	c.Engine = tracking.NewEngine(c.Registry,
		tracking.WithCapabilityCache(tracking.NewCapabilityCache(tracking.NewGormIntrospector(db), cfg.Audit.CapabilityTTL)),
		tracking.WithErrorReporter(tracking.NewLogReporter(log)),
		tracking.WithHistoryReader(c.AuditStore),
		tracking.WithLogger(log),
	)
	c.RecordStore = recordstore.New(db, c.Engine, c.AuditStore, log)
	c.Archiver = audit.NewArchiver(c.AuditStore, audit.ArchiveConfig{
		ArchivePath:   cfg.Audit.Archive.Path,
		RetentionDays: cfg.Audit.Archive.RetentionDays,
	}, log)

	// 查询链：进程内 LFU -> Redis -> 数据库
	c.OrgRepo = tenant.NewLocalCachedRepository(
		tenant.NewCachedRepository(tenant.NewGormRepository(db), rdb, cfg.Tenancy.LookupCacheTTL, log),
		cfg.Tenancy.LocalCacheSize, cfg.Tenancy.LocalCacheTTL,
	)
	resolver, err := tenant.NewResolver(c.OrgRepo, tenant.ResolverConfig{
		MainDomain: cfg.Tenancy.MainDomain,
		Scheme:     cfg.Tenancy.Scheme,
	})
	if err != nil {
		return nil, err
	}
	c.Resolver = resolver
	c.TenantService = tenant.NewService(c.RecordStore, c.Resolver, c.OrgRepo)
	c.PostService = feedback.NewPostService(c.RecordStore, c.Engine)

	secret, err := jwtSecret(cfg)
	if err != nil {
		return nil, err
	}
	c.JWTService = auth.NewJWTService(secret, cfg.Auth.Issuer, rdb)

	if rdb != nil {
		c.Enqueuer = worker.NewEnqueuer(cfg.Redis)
	}

	var enqueuer auditHandlers.ExportEnqueuer
	if c.Enqueuer != nil {
		enqueuer = c.Enqueuer
	}
	c.AuditHandler = auditHandlers.NewAuditHandler(c.AuditStore, enqueuer)
	c.TenantHandler = tenantHandlers.NewTenantHandler(c.TenantService, c.Resolver, c.AuditStore)

	return c, nil
}

// Close 释放容器持有的客户端
func (c *AppContainer) Close() error {
	var errs []error
	if c.Enqueuer != nil {
		errs = append(errs, c.Enqueuer.Close())
	}
	if c.Redis != nil {
		errs = append(errs, c.Redis.Close())
	}
	return errors.Join(errs...)
}

// jwtSecret 生产模式必须显式配置密钥
func jwtSecret(cfg *config.Config) (string, error) {
	secret := strings.TrimSpace(cfg.Auth.JWTSecret)
	if secret == "" {
		secret = strings.TrimSpace(os.Getenv("JWT_SECRET_KEY"))
	}
	if secret != "" {
		return secret, nil
	}
	if strings.EqualFold(cfg.Server.Mode, "release") {
		return "", errors.New("auth.jwt_secret 未配置，生产环境禁止使用默认密钥")
	}
	logger.Warn("auth.jwt_secret 未配置，已回退为开发默认值")
	return "feedbackhub-dev-secret", nil
}
