package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace-wallet/api/routers"
	"marketplace-wallet/internal/chain"
	"marketplace-wallet/internal/keygen"
	"marketplace-wallet/internal/pool"
	"marketplace-wallet/internal/pricefeed"
	"marketplace-wallet/internal/purchase"
	"marketplace-wallet/internal/vault"
	"marketplace-wallet/internal/wallet"
	"marketplace-wallet/pkg/cache"
	"marketplace-wallet/pkg/config"
	"marketplace-wallet/pkg/database"
	"marketplace-wallet/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func main() {
	// 加载配置
	cfg := config.Load()

	// 初始化日志
	logger.Init(cfg.App.Env)
	defer logger.Sync()

	logger.Infof("Starting %s v%s", cfg.App.Name, cfg.App.Version)

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

	// 组装服务，依赖关系在启动时一次性显式注入
	poolManager, purchaseRepo, chainClient := buildServices(cfg)
	defer chainClient.Close()

	// 设置JWT密钥
	routers.SetJWTSecret(cfg.JWT.Secret)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	httpRouter := routers.SetupRouter(&routers.Services{
		Pool:      poolManager,
		Purchases: purchaseRepo,
		AdminTOTP: cfg.Admin.TOTPSecret,
	})
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      httpRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Infof("HTTP server listening on port %d", cfg.App.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Errorf("HTTP server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}

func autoMigrate() error {
	return database.AutoMigrate(
		&wallet.DepositWallet{},
		&purchase.Purchase{},
		&purchase.LedgerEntry{},
		&purchase.CommissionRecord{},
	)
}

func buildServices(cfg *config.Config) (*pool.Manager, purchase.Repository, *chain.Client) {
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
	purchaseRepo := purchase.NewRepository(db)

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

	return manager, purchaseRepo, chainClient
}

func mustDecimal(name, value string) decimal.Decimal {
	d, err := decimal.NewFromString(value)
	if err != nil {
		logger.Fatalf("Invalid decimal value for %s: %q", name, value)
	}
	return d
}
