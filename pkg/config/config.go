package config

import (
	"os"
	"strconv"
	"time"
)

// Config 应用配置
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Vault     VaultConfig
	Chain     ChainConfig
	Pool      PoolConfig
	Scheduler SchedulerConfig
	Telegram  TelegramConfig
	Admin     AdminConfig
}

// AppConfig 应用配置
type AppConfig struct {
	Name    string
	Version string
	Port    int
	Env     string // development, staging, production
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxIdleConns int
	MaxOpenConns int
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret     string
	ExpireTime time.Duration
}

// VaultConfig 密钥库配置
type VaultConfig struct {
	MasterSecret string
	Ephemeral    bool // 允许无密钥启动（进程内随机密钥，仅限测试环境）
	Mnemonic     string
}

// ChainConfig 链访问配置
type ChainConfig struct {
	RPCURL           string
	ChainID          int64
	ExplorerURL      string
	ExplorerAPIKey   string
	Symbol           string
	RequestTimeout   time.Duration
	PriceAPIURL      string
	QuoteCurrency    string
	FallbackRate     string
	HotWalletAddress string
}

// PoolConfig 充值钱包池配置
type PoolConfig struct {
	MinSize          int
	AssignTTL        time.Duration
	FeeBuffer        string // 链上单位，归集手续费缓冲
	CommissionRate   string
	TokenPrice       string // 内部代币单价（计价货币）
	MatchTolerance   string
	ConsolidateBatch int
	ExplorerTxLimit  int
}

// SchedulerConfig 调度器配置
type SchedulerConfig struct {
	PollInterval        time.Duration
	ExpireInterval      time.Duration
	ConsolidateInterval time.Duration
	RefillInterval      time.Duration
	StopTimeout         time.Duration
}

// TelegramConfig Telegram通知配置
type TelegramConfig struct {
	BotToken string
	Enabled  bool
}

// AdminConfig 管理接口配置
type AdminConfig struct {
	TOTPSecret string
}

// Load 加载配置
func Load() *Config {
	return &Config{
		App: AppConfig{
			Name:    getEnv("APP_NAME", "marketplace-wallet"),
			Version: getEnv("APP_VERSION", "1.0.0"),
			Port:    getEnvInt("APP_PORT", 8080),
			Env:     getEnv("APP_ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			DBName:       getEnv("DB_NAME", "marketplace_wallet"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 100),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			ExpireTime: time.Duration(getEnvInt("JWT_EXPIRE_HOURS", 24)) * time.Hour,
		},
		Vault: VaultConfig{
			MasterSecret: getEnv("VAULT_MASTER_SECRET", ""),
			Ephemeral:    getEnvBool("VAULT_EPHEMERAL", false),
			Mnemonic:     getEnv("VAULT_POOL_MNEMONIC", ""),
		},
		Chain: ChainConfig{
			RPCURL:           getEnv("CHAIN_RPC_URL", "http://localhost:8545"),
			ChainID:          int64(getEnvInt("CHAIN_ID", 1)),
			ExplorerURL:      getEnv("CHAIN_EXPLORER_URL", "https://api.etherscan.io/api"),
			ExplorerAPIKey:   getEnv("CHAIN_EXPLORER_API_KEY", ""),
			Symbol:           getEnv("CHAIN_SYMBOL", "ETH"),
			RequestTimeout:   time.Duration(getEnvInt("CHAIN_REQUEST_TIMEOUT_SEC", 10)) * time.Second,
			PriceAPIURL:      getEnv("PRICE_API_URL", "https://min-api.cryptocompare.com/data/price"),
			QuoteCurrency:    getEnv("PRICE_QUOTE_CURRENCY", "USD"),
			FallbackRate:     getEnv("PRICE_FALLBACK_RATE", "2500"),
			HotWalletAddress: getEnv("HOT_WALLET_ADDRESS", ""),
		},
		Pool: PoolConfig{
			MinSize:          getEnvInt("POOL_MIN_SIZE", 10),
			AssignTTL:        time.Duration(getEnvInt("POOL_ASSIGN_TTL_MIN", 30)) * time.Minute,
			FeeBuffer:        getEnv("POOL_FEE_BUFFER", "0.002"),
			CommissionRate:   getEnv("POOL_COMMISSION_RATE", "0.05"),
			TokenPrice:       getEnv("POOL_TOKEN_PRICE", "0.1"),
			MatchTolerance:   getEnv("POOL_MATCH_TOLERANCE", "0.99"),
			ConsolidateBatch: getEnvInt("POOL_CONSOLIDATE_BATCH", 20),
			ExplorerTxLimit:  getEnvInt("POOL_EXPLORER_TX_LIMIT", 10),
		},
		Scheduler: SchedulerConfig{
			PollInterval:        time.Duration(getEnvInt("SCHED_POLL_INTERVAL_SEC", 30)) * time.Second,
			ExpireInterval:      time.Duration(getEnvInt("SCHED_EXPIRE_INTERVAL_SEC", 60)) * time.Second,
			ConsolidateInterval: time.Duration(getEnvInt("SCHED_CONSOLIDATE_INTERVAL_SEC", 60)) * time.Second,
			RefillInterval:      time.Duration(getEnvInt("SCHED_REFILL_INTERVAL_SEC", 300)) * time.Second,
			StopTimeout:         time.Duration(getEnvInt("SCHED_STOP_TIMEOUT_SEC", 10)) * time.Second,
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			Enabled:  getEnvBool("TELEGRAM_NOTIFY_ENABLED", false),
		},
		Admin: AdminConfig{
			TOTPSecret: getEnv("ADMIN_TOTP_SECRET", ""),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
