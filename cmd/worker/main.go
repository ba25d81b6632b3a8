package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace-wallet/internal/chain"
	"marketplace-wallet/internal/keygen"
	"marketplace-wallet/internal/notify"
	"marketplace-wallet/internal/pool"
	"marketplace-wallet/internal/pricefeed"
	"marketplace-wallet/internal/purchase"
	"marketplace-wallet/internal/scheduler"
	"marketplace-wallet/internal/vault"
	"marketplace-wallet/internal/wallet"
	"marketplace-wallet/pkg/cache"
	"marketplace-wallet/pkg/config"
	"marketplace-wallet/pkg/database"
	"marketplace-wallet/pkg/logger"

	"github.com/shopspring/decimal"
)

const schedulerLockKey = "deposit-scheduler"

func main() {
	// 加载配置
	cfg := config.Load()

	// 初始化日志
	logger.Init(cfg.App.Env)
	defer logger.Sync()

	logger.Info("Starting deposit worker...")

	// 初始化数据库
	if err := database.Init(cfg.Database); err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	// 自动迁移
	if err := autoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	// 初始化Redis
	if err := cache.Init(cfg.Redis); err != nil {
		logger.Fatalf("Failed to initialize Redis: %v", err)
	}
	defer cache.Close()

	// 多实例部署时只允许一个worker跑调度器
	lock := cache.NewLock(schedulerLockKey, 2*time.Minute)
	acquired, err := lock.Acquire(context.Background())
	if err != nil {
		logger.Fatalf("Failed to acquire scheduler lock: %v", err)
	}
	if !acquired {
		logger.Fatalf("Another worker instance holds the scheduler lock")
	}
	defer lock.Release(context.Background())

	// 组装服务
	store, poolManager, chainClient := buildServices(cfg)
	defer chainClient.Close()

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" {
		notifier = notify.NewTelegram(cfg.Telegram.BotToken, cfg.Chain.RequestTimeout)
	}

	sched := scheduler.New(poolManager, store, notifier, scheduler.Config{
		PollInterval:        cfg.Scheduler.PollInterval,
		ExpireInterval:      cfg.Scheduler.ExpireInterval,
		ConsolidateInterval: cfg.Scheduler.ConsolidateInterval,
		RefillInterval:      cfg.Scheduler.RefillInterval,
		StopTimeout:         cfg.Scheduler.StopTimeout,
		MinPoolSize:         cfg.Pool.MinSize,
		ConsolidateBatch:    cfg.Pool.ConsolidateBatch,
	})

	if err := sched.Start(); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}

	// 锁续期
	lockCtx, stopRenewal := context.WithCancel(context.Background())
	go renewLock(lockCtx, lock)

	// 等待信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	stopRenewal()

	if err := sched.Stop(); err != nil {
		logger.Errorf("Scheduler shutdown: %v", err)
	}
	logger.Info("Worker exited")
}

func autoMigrate() error {
	return database.AutoMigrate(
		&wallet.DepositWallet{},
		&purchase.Purchase{},
		&purchase.LedgerEntry{},
		&purchase.CommissionRecord{},
	)
}

func renewLock(ctx context.Context, lock *cache.Lock) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lock.Refresh(ctx); err != nil {
				logger.Warnf("Failed to refresh scheduler lock: %v", err)
			}
		}
	}
}

func buildServices(cfg *config.Config) (wallet.Store, *pool.Manager, *chain.Client) {
	db := database.GetDB()

	v, err := vault.New(cfg.Vault.MasterSecret, cfg.Vault.Ephemeral)
	if err != nil {
		logger.Fatalf("Failed to initialize key vault: %v", err)
	}

	kg, err := keygen.New(cfg.Vault.Mnemonic)
	if err != nil {
		logger.Fatalf("Failed to initialize wallet generator: %v", err)
	}

	chainClient, err := chain.NewClient(chain.Config{
		RPCURL:         cfg.Chain.RPCURL,
		ChainID:        cfg.Chain.ChainID,
		ExplorerURL:    cfg.Chain.ExplorerURL,
		ExplorerAPIKey: cfg.Chain.ExplorerAPIKey,
		RequestTimeout: cfg.Chain.RequestTimeout,
	})
	if err != nil {
		logger.Fatalf("Failed to initialize chain client: %v", err)
	}

	rates := pricefeed.New(cfg.Chain.PriceAPIURL, cfg.Chain.RequestTimeout)
	store := wallet.NewStore(db)

	manager := pool.NewManager(store, v, kg, chainClient, chainClient, rates, pool.Config{
		MinSize:          cfg.Pool.MinSize,
		AssignTTL:        cfg.Pool.AssignTTL,
		FeeBuffer:        mustDecimal("POOL_FEE_BUFFER", cfg.Pool.FeeBuffer),
		CommissionRate:   mustDecimal("POOL_COMMISSION_RATE", cfg.Pool.CommissionRate),
		TokenPrice:       mustDecimal("POOL_TOKEN_PRICE", cfg.Pool.TokenPrice),
		MatchTolerance:   mustDecimal("POOL_MATCH_TOLERANCE", cfg.Pool.MatchTolerance),
		FallbackRate:     mustDecimal("PRICE_FALLBACK_RATE", cfg.Chain.FallbackRate),
		ChainSymbol:      cfg.Chain.Symbol,
		QuoteCurrency:    cfg.Chain.QuoteCurrency,
		ConsolidateBatch: cfg.Pool.ConsolidateBatch,
		ExplorerTxLimit:  cfg.Pool.ExplorerTxLimit,
		HotWalletAddress: cfg.Chain.HotWalletAddress,
	})

	return store, manager, chainClient
}

func mustDecimal(name, value string) decimal.Decimal {
	d, err := decimal.NewFromString(value)
	if err != nil {
		logger.Fatalf("Invalid decimal value for %s: %q", name, value)
	}
	return d
}
