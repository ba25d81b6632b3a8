package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"marketplace-wallet/internal/notify"
	"marketplace-wallet/internal/pool"
	"marketplace-wallet/internal/wallet"
	"marketplace-wallet/pkg/logger"
)

var (
	ErrAlreadyRunning = errors.New("scheduler already running")
	ErrNotRunning     = errors.New("scheduler not running")
	ErrStopTimeout    = errors.New("scheduler stop timed out")
)

// Config 调度器配置
type Config struct {
	PollInterval        time.Duration
	ExpireInterval      time.Duration
	ConsolidateInterval time.Duration
	RefillInterval      time.Duration
	StopTimeout         time.Duration
	MinPoolSize         int
	ConsolidateBatch    int
}

// Status 调度器状态
type Status struct {
	Running             bool          `json:"running"`
	LastTickAt          time.Time     `json:"last_tick_at"`
	PollInterval        time.Duration `json:"poll_interval"`
	ExpireInterval      time.Duration `json:"expire_interval"`
	ConsolidateInterval time.Duration `json:"consolidate_interval"`
	RefillInterval      time.Duration `json:"refill_interval"`
}

// Scheduler 充值调度器。单个后台goroutine承载四个独立节拍的职责:
// 充值轮询、过期回收、归集、补池。任一tick的异常不会终止循环。
type Scheduler struct {
	pool     *pool.Manager
	store    wallet.Store
	notifier notify.Notifier
	cfg      Config

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	lastTick time.Time
}

// New 创建调度器
func New(p *pool.Manager, store wallet.Store, notifier notify.Notifier, cfg Config) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.ExpireInterval <= 0 {
		cfg.ExpireInterval = 60 * time.Second
	}
	if cfg.ConsolidateInterval <= 0 {
		cfg.ConsolidateInterval = 60 * time.Second
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = 300 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Scheduler{
		pool:     p,
		store:    store,
		notifier: notifier,
		cfg:      cfg,
	}
}

// Start 启动后台worker。启动时先补池一次，避免冷池吃掉首个请求。
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.run(ctx)

	logger.Infof("Deposit scheduler started (poll %s, expire %s, consolidate %s, refill %s)",
		s.cfg.PollInterval, s.cfg.ExpireInterval, s.cfg.ConsolidateInterval, s.cfg.RefillInterval)
	return nil
}

// Stop 协作式停止: 取消后等待当前tick结束，等待时间有界。
// running只在worker真正退出后翻转；等待超时说明goroutine仍在收尾，
// 状态保持running，可再次Stop继续等待。
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()

	select {
	case <-done:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		logger.Info("Deposit scheduler stopped")
		return nil
	case <-time.After(s.cfg.StopTimeout):
		return ErrStopTimeout
	}
}

// Status 运行状态与节拍配置
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:             s.running,
		LastTickAt:          s.lastTick,
		PollInterval:        s.cfg.PollInterval,
		ExpireInterval:      s.cfg.ExpireInterval,
		ConsolidateInterval: s.cfg.ConsolidateInterval,
		RefillInterval:      s.cfg.RefillInterval,
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	s.safeTick("refill", func() {
		if _, err := s.pool.RefillIfBelow(ctx, s.cfg.MinPoolSize); err != nil {
			logger.Errorf("Initial pool refill failed: %v", err)
		}
	})

	pollTicker := time.NewTicker(s.cfg.PollInterval)
	expireTicker := time.NewTicker(s.cfg.ExpireInterval)
	consolidateTicker := time.NewTicker(s.cfg.ConsolidateInterval)
	refillTicker := time.NewTicker(s.cfg.RefillInterval)
	defer pollTicker.Stop()
	defer expireTicker.Stop()
	defer consolidateTicker.Stop()
	defer refillTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			s.safeTick("poll", func() { s.pollDeposits(ctx) })
		case <-expireTicker.C:
			s.safeTick("expire", func() {
				if _, err := s.pool.ReleaseExpired(ctx); err != nil {
					logger.Errorf("Expiration sweep failed: %v", err)
				}
			})
		case <-consolidateTicker.C:
			s.safeTick("consolidate", func() {
				if _, err := s.pool.Consolidate(ctx, s.cfg.ConsolidateBatch); err != nil {
					logger.Errorf("Consolidation failed: %v", err)
				}
			})
		case <-refillTicker.C:
			s.safeTick("refill", func() {
				if _, err := s.pool.RefillIfBelow(ctx, s.cfg.MinPoolSize); err != nil {
					logger.Errorf("Pool refill failed: %v", err)
				}
			})
		}
	}
}

// pollDeposits 轮询所有仍绑定pending购买单的钱包。
// CheckDeposit幂等且互相独立，顺序无关紧要。
func (s *Scheduler) pollDeposits(ctx context.Context) {
	wallets, err := s.store.ListAssignedPending()
	if err != nil {
		logger.Errorf("Failed to list assigned wallets: %v", err)
		return
	}

	for _, w := range wallets {
		if ctx.Err() != nil {
			return
		}
		if w.AssignedPurchaseID == nil {
			continue
		}
		purchaseID := *w.AssignedPurchaseID

		result, err := s.pool.CheckDeposit(ctx, purchaseID)
		if err != nil {
			logger.Errorf("Deposit check failed for purchase %s: %v", purchaseID, err)
			continue
		}

		switch result.Status {
		case pool.DepositConfirmed, pool.DepositExpired:
			var userID uint
			if w.AssignedUserID != nil {
				userID = *w.AssignedUserID
			}
			s.notifier.NotifyDeposit(ctx, userID, purchaseID, string(result.Status))
		}
	}
}

// safeTick 捕获单个tick的panic，循环本身永不因单次失败终止
func (s *Scheduler) safeTick(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Scheduler tick %q panicked: %v", name, r)
		}
	}()

	s.mu.Lock()
	s.lastTick = time.Now()
	s.mu.Unlock()

	fn()
}
