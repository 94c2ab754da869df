package tracking

import "errors"

var (
	// ErrConcurrentModification 版本号比较失败，调用方需要重新读取后重试
	ErrConcurrentModification = errors.New("tracking: concurrent modification")
	// ErrAuditPersistence 审计记录写入失败
	ErrAuditPersistence = errors.New("tracking: audit persistence failure")
	// ErrConfiguration 实体类型注册配置错误，应在启动时暴露
	ErrConfiguration = errors.New("tracking: configuration error")
	// ErrNotRegistered 实体类型未注册
	ErrNotRegistered = errors.New("tracking: entity type not registered")
)
