// =============================================================================
// AgentFlow Gateway 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		Queue:        DefaultQueueConfig(),
		Retry:        DefaultRetryConfig(),
		Cache:        DefaultCacheConfig(),
		Health:       DefaultHealthConfig(),
		Backpressure: DefaultBackpressureConfig(),
		Router:       DefaultRouterConfig(),
		Discussion:   DefaultDiscussionConfig(),
		JWT:          DefaultJWTConfig(),
		Redis:        DefaultRedisConfig(),
		Database:     DefaultDatabaseConfig(),
		Log:          DefaultLogConfig(),
		Telemetry:    DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:           8080,
		MetricsPort:        9091,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		RateLimitRPS:       100,
		RateLimitBurst:     200,
		APIKeys:            nil,
		CORSAllowedOrigins: []string{"*"},
		AllowQueryAPIKey:   false,
	}
}

// DefaultQueueConfig 返回默认队列配置，对应 spec.md §4.1 的建议深度
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxDepth:      1000,
		MaxConcurrent: 50,
	}
}

// DefaultRetryConfig 返回默认重试配置，镜像 internal/retry.DefaultConfig
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Transient:       RetryPolicyConfig{MaxRetries: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second},
		RateLimit:       RetryPolicyConfig{MaxRetries: 3, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second},
		FallbackEnabled: true,
	}
}

// DefaultCacheConfig 返回默认缓存配置；取值与 internal/cachemgr.DefaultConfig
// 不同（此处 TTL 1h、清扫周期 10m、上限 100000 条）
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:               1 * time.Hour,
		SweepInterval:     10 * time.Minute,
		MaxEntries:        100000,
		RedisFrontEnabled: false,
	}
}

// DefaultHealthConfig 返回默认健康检查配置，镜像 internal/health.DefaultConfig
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CheckInterval:       30 * time.Second,
		CheckTimeout:        5 * time.Second,
		FailuresToUnhealthy: 3,
		SuccessesToHealthy:  2,
	}
}

// DefaultBackpressureConfig 返回默认背压配置
func DefaultBackpressureConfig() BackpressureConfig {
	return BackpressureConfig{
		BaselineMaxConcurrent: 50,
		SampleInterval:        2 * time.Second,
		SuccessWindowSize:     50,
	}
}

// DefaultRouterConfig 返回默认路由配置：无规则，直接落到 default_provider
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		DefaultProvider: "",
		Rules:           nil,
		Groups:          nil,
	}
}

// DefaultDiscussionConfig 返回默认讨论配置，镜像 types.DiscussionConfig 的建议值
func DefaultDiscussionConfig() DiscussionConfig {
	return DiscussionConfig{
		RoundTimeoutS:    60,
		ProviderTimeoutS: 20,
		MinProviders:     2,
		MaxRounds:        3,
	}
}

// DefaultJWTConfig 返回默认 JWT 配置：Secret/PublicKey 均为空时，
// 任何 JWT 都会在 keyFunc 中被拒绝，等同于禁用该算法。
func DefaultJWTConfig() JWTConfig {
	return JWTConfig{}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "agentflow",
		Password:        "",
		Name:            "agentflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "agentflow-gateway",
		SampleRate:   0.1,
	}
}
