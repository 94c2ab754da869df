package worker

import (
	"context"
	"fmt"

	"feedbackhub/internal/config"
	"feedbackhub/internal/worker/handlers"
	"feedbackhub/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// RedisOpt asynq 连接参数，与应用共用同一份 Redis 配置
func RedisOpt(cfg config.RedisConfig) asynq.RedisConnOpt {
	switch cfg.Mode {
	case "sentinel":
		return asynq.RedisFailoverClientOpt{
			MasterName:       cfg.MasterName,
			SentinelAddrs:    cfg.SentinelAddrs,
			SentinelPassword: cfg.SentinelPassword,
			Password:         cfg.Password,
			DB:               cfg.DB,
		}
	case "cluster":
		return asynq.RedisClusterClientOpt{
			Addrs:    cfg.ClusterAddrs,
			Password: cfg.Password,
		}
	}
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

func NewServer(cfg config.RedisConfig, exporter handlers.Exporter, logger *zap.Logger) *Server {
	srv := asynq.NewServer(
		RedisOpt(cfg),
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				tasks.QueueMaintenance: 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("任务执行失败",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeAuditExport, handlers.NewAuditExportHandler(exporter, logger).HandleAuditExport)

	return &Server{
		server: srv,
		mux:    mux,
		logger: logger,
	}
}

// Start 非阻塞启动
func (s *Server) Start() error {
	s.logger.Info("Worker 服务器启动中 (后台)...")
	return s.server.Start(s.mux)
}

// Shutdown 停止 Worker 服务器
func (s *Server) Shutdown() {
	s.logger.Info("Worker 服务器停止中...")
	s.server.Shutdown()
}

// Scheduler 按 cron 周期投递审计导出任务
type Scheduler struct {
	scheduler *asynq.Scheduler
	logger    *zap.Logger
}

// NewScheduler 创建调度器，cron 为空时不注册任何任务
func NewScheduler(cfg config.RedisConfig, cron string, logger *zap.Logger) (*Scheduler, error) {
	s := asynq.NewScheduler(RedisOpt(cfg), &asynq.SchedulerOpts{
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil {
				logger.Warn("投递定时任务失败", zap.Error(err))
				return
			}
			logger.Info("已投递定时任务", zap.String("type", info.Type), zap.String("id", info.ID))
		},
	})
	if cron != "" {
		task, err := tasks.NewAuditExportTask(tasks.AuditExportPayload{RequestedBy: "scheduler"})
		if err != nil {
			return nil, err
		}
		if _, err := s.Register(cron, task); err != nil {
			return nil, fmt.Errorf("注册审计导出定时任务失败: %w", err)
		}
	}
	return &Scheduler{scheduler: s, logger: logger}, nil
}

// Start 非阻塞启动
func (s *Scheduler) Start() error {
	return s.scheduler.Start()
}

// Shutdown 停止调度器
func (s *Scheduler) Shutdown() {
	s.scheduler.Shutdown()
}

// Enqueuer 投递一次性任务（手动触发的导出）
type Enqueuer struct {
	client *asynq.Client
}

// NewEnqueuer 创建任务投递客户端
func NewEnqueuer(cfg config.RedisConfig) *Enqueuer {
	return &Enqueuer{client: asynq.NewClient(RedisOpt(cfg))}
}

// EnqueueAuditExport 投递审计导出任务；已有待执行的导出时返回 asynq.ErrDuplicateTask
func (e *Enqueuer) EnqueueAuditExport(ctx context.Context, p tasks.AuditExportPayload) (string, error) {
	task, err := tasks.NewAuditExportTask(p)
	if err != nil {
		return "", err
	}
	info, err := e.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// Close 关闭客户端
func (e *Enqueuer) Close() error {
	return e.client.Close()
}
