package config

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Tenancy  TenancyConfig  `mapstructure:"tenancy"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"` // debug, release, test
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 连接模式: standalone(单节点), sentinel(哨兵), cluster(集群)
	Mode string `mapstructure:"mode"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	MasterName       string   `mapstructure:"master_name"`
	SentinelAddrs    []string `mapstructure:"sentinel_addrs"`
	SentinelPassword string   `mapstructure:"sentinel_password"`

	ClusterAddrs []string `mapstructure:"cluster_addrs"`

	PoolSize     int `mapstructure:"pool_size"`
	MinIdleConns int `mapstructure:"min_idle_conns"`
}

// Addr 单节点地址（asynq 也使用该地址）
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Enabled 是否配置了 Redis
func (c RedisConfig) Enabled() bool {
	return c.Host != "" || len(c.SentinelAddrs) > 0 || len(c.ClusterAddrs) > 0
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// TenancyConfig 租户解析配置
type TenancyConfig struct {
	MainDomain     string        `mapstructure:"main_domain"`      // 例如 katauser.com
	Scheme         string        `mapstructure:"scheme"`           // 规范 URL 协议，默认 https
	RedirectStatus int           `mapstructure:"redirect_status"`  // 规范 URL 跳转状态码，默认 302
	LookupCacheTTL time.Duration `mapstructure:"lookup_cache_ttl"` // 组织查询缓存，0 表示关闭
	LocalCacheSize int           `mapstructure:"local_cache_size"` // 进程内缓存条目数，0 表示关闭
	LocalCacheTTL  time.Duration `mapstructure:"local_cache_ttl"`  // 进程内缓存时长
}

// AuditConfig 审计与版本追踪配置
type AuditConfig struct {
	CapabilityTTL time.Duration `mapstructure:"capability_ttl"` // 表结构能力缓存时长
	Archive       ArchiveConfig `mapstructure:"archive"`
}

// ArchiveConfig 审计归档导出配置
type ArchiveConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
	Cron          string `mapstructure:"cron"`
}

// AuthConfig 身份配置
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

var globalConfig *Config

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 15)
	v.SetDefault("server.write_timeout", 15)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")
	v.SetDefault("tenancy.main_domain", "katauser.com")
	v.SetDefault("tenancy.scheme", "https")
	v.SetDefault("tenancy.redirect_status", http.StatusFound)
	v.SetDefault("tenancy.lookup_cache_ttl", time.Minute)
	v.SetDefault("tenancy.local_cache_size", 1024)
	v.SetDefault("tenancy.local_cache_ttl", 5*time.Second)
	v.SetDefault("audit.capability_ttl", 24*time.Hour)
	v.SetDefault("audit.archive.path", "./archive/audit")
	v.SetDefault("audit.archive.retention_days", 180)
	v.SetDefault("audit.archive.cron", "@daily")
	v.SetDefault("auth.issuer", "feedbackhub")
}

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath == "" {
		v.SetConfigName(env)
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}

	v.SetConfigType("yaml")

	// 环境变量优先级高于配置文件：APP_TENANCY_MAIN_DOMAIN
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

// Validate 启动时校验配置，错误配置直接失败
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Tenancy.MainDomain) == "" {
		return errors.New("config: tenancy.main_domain 不能为空")
	}
	switch c.Tenancy.RedirectStatus {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
	default:
		return fmt.Errorf("config: tenancy.redirect_status 非法: %d", c.Tenancy.RedirectStatus)
	}
	if c.Tenancy.Scheme != "http" && c.Tenancy.Scheme != "https" {
		return fmt.Errorf("config: tenancy.scheme 非法: %q", c.Tenancy.Scheme)
	}
	if c.Audit.CapabilityTTL < 0 {
		return errors.New("config: audit.capability_ttl 不能为负数")
	}
	return nil
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 Load()")
	}
	return globalConfig
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}
