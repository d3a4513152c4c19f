// =============================================================================
// AgentFlow Gateway 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("AGENTFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 核心配置结构
// =============================================================================

// Config 是 AgentFlow Gateway 的完整配置结构
type Config struct {
	// Server HTTP 服务器与鉴权配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Providers 上游模型供应商凭据与端点，按 Name 注册为 router/engine 的 Backend
	Providers []ProviderConfig `yaml:"providers" env:"-"`

	// Queue 请求队列配置
	Queue QueueConfig `yaml:"queue" env:"QUEUE"`

	// Retry 重试/降级策略配置
	Retry RetryConfig `yaml:"retry" env:"RETRY"`

	// Cache 响应缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Health Provider 健康检查配置
	Health HealthConfig `yaml:"health" env:"HEALTH"`

	// Backpressure 自适应背压配置
	Backpressure BackpressureConfig `yaml:"backpressure" env:"BACKPRESSURE"`

	// Router 路由规则配置
	Router RouterConfig `yaml:"router" env:"ROUTER"`

	// Discussion 多 Provider 讨论配置
	Discussion DiscussionConfig `yaml:"discussion" env:"DISCUSSION"`

	// JWT JWT 鉴权配置
	JWT JWTConfig `yaml:"jwt" env:"JWT"`

	// Redis 缓存前端配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每秒请求限流
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流突发余量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 静态 API Key 列表（与 APIKeyAuth 中间件配合使用）
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// CORS 允许的来源
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// AllowQueryAPIKey 允许通过 ?api_key= 查询参数携带密钥（便于浏览器端 SSE 调试）
	AllowQueryAPIKey bool `yaml:"allow_query_api_key" env:"ALLOW_QUERY_API_KEY"`
}

// ProviderConfig names one upstream model backend the gateway dials out to.
// Router rules and groups reference backends by Name.
type ProviderConfig struct {
	Name      string        `yaml:"name"`
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
}

// QueueConfig 请求队列配置，对应 internal/queue.New 的参数
type QueueConfig struct {
	// 队列最大深度，超出后 Enqueue 返回 false（触发 503）
	MaxDepth int `yaml:"max_depth" env:"MAX_DEPTH"`
	// 允许的最大并发分派数
	MaxConcurrent int `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
}

// RetryConfig 镜像 internal/retry.Config：瞬时故障与限流故障分别配置退避策略
type RetryConfig struct {
	Transient       RetryPolicyConfig `yaml:"transient" env:"TRANSIENT"`
	RateLimit       RetryPolicyConfig `yaml:"rate_limit" env:"RATE_LIMIT"`
	FallbackEnabled bool              `yaml:"fallback_enabled" env:"FALLBACK_ENABLED"`
}

// RetryPolicyConfig 镜像 internal/retry.Policy
type RetryPolicyConfig struct {
	MaxRetries int           `yaml:"max_retries" env:"MAX_RETRIES"`
	BaseDelay  time.Duration `yaml:"base_delay" env:"BASE_DELAY"`
	MaxDelay   time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
}

// CacheConfig 镜像 internal/cachemgr.Config
type CacheConfig struct {
	// 缓存条目存活时间
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// 后台清扫周期
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	// 超出后按最久未命中淘汰
	MaxEntries int64 `yaml:"max_entries" env:"MAX_ENTRIES"`
	// 是否启用 Redis 前端（internal/cache.Manager），为空则仅使用数据库层
	RedisFrontEnabled bool `yaml:"redis_front_enabled" env:"REDIS_FRONT_ENABLED"`
}

// HealthConfig 镜像 internal/health.Config
type HealthConfig struct {
	CheckInterval       time.Duration `yaml:"check_interval" env:"CHECK_INTERVAL"`
	CheckTimeout        time.Duration `yaml:"check_timeout" env:"CHECK_TIMEOUT"`
	FailuresToUnhealthy int           `yaml:"failures_to_unhealthy" env:"FAILURES_TO_UNHEALTHY"`
	SuccessesToHealthy  int           `yaml:"successes_to_healthy" env:"SUCCESSES_TO_HEALTHY"`
}

// BackpressureConfig 镜像 internal/backpressure.Config（不含 Multipliers，
// 那张表固定为 spec.md §4.4 的档位乘数，不对外暴露为可配置项）
type BackpressureConfig struct {
	BaselineMaxConcurrent int           `yaml:"baseline_max_concurrent" env:"BASELINE_MAX_CONCURRENT"`
	SampleInterval        time.Duration `yaml:"sample_interval" env:"SAMPLE_INTERVAL"`
	SuccessWindowSize     int           `yaml:"success_window_size" env:"SUCCESS_WINDOW_SIZE"`
}

// RouterConfig 种子化 internal/router.Router 的默认 Provider 与规则/分组
type RouterConfig struct {
	DefaultProvider string            `yaml:"default_provider" env:"DEFAULT_PROVIDER"`
	Rules           []RouterRuleConfig `yaml:"rules" env:"-"`
	Groups          map[string][]string `yaml:"groups" env:"-"`
}

// RouterRuleConfig 镜像 internal/router.Rule
type RouterRuleConfig struct {
	Keywords    []string `yaml:"keywords"`
	Provider    string   `yaml:"provider"`
	Model       string   `yaml:"model"`
	Priority    int      `yaml:"priority"`
	Description string   `yaml:"description"`
}

// DiscussionConfig 为 types.DiscussionConfig 提供可配置的默认值
type DiscussionConfig struct {
	RoundTimeoutS    float64 `yaml:"round_timeout_s" env:"ROUND_TIMEOUT_S"`
	ProviderTimeoutS float64 `yaml:"provider_timeout_s" env:"PROVIDER_TIMEOUT_S"`
	MinProviders     int     `yaml:"min_providers" env:"MIN_PROVIDERS"`
	MaxRounds        int     `yaml:"max_rounds" env:"MAX_ROUNDS"`
}

// JWTConfig 镜像 cmd/gateway 中间件 JWTAuth 所需的签名配置
type JWTConfig struct {
	// HS256 密钥，为空则 HS256 token 一律被拒绝
	Secret string `yaml:"secret" env:"SECRET"`
	// RS256 公钥（PEM），为空则 RS256 token 一律被拒绝
	PublicKey string `yaml:"public_key" env:"PUBLIC_KEY"`
	// Token 签发方，非空时校验 iss claim
	Issuer string `yaml:"issuer" env:"ISSUER"`
	// Token 受众，非空时校验 aud claim
	Audience string `yaml:"audience" env:"AUDIENCE"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "AGENTFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Queue.MaxDepth <= 0 {
		errs = append(errs, "queue.max_depth must be positive")
	}
	if c.Queue.MaxConcurrent <= 0 {
		errs = append(errs, "queue.max_concurrent must be positive")
	}
	if c.Retry.Transient.MaxRetries < 0 || c.Retry.RateLimit.MaxRetries < 0 {
		errs = append(errs, "retry max_retries must not be negative")
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, "cache.ttl must be positive")
	}
	if c.Health.FailuresToUnhealthy <= 0 {
		errs = append(errs, "health.failures_to_unhealthy must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
