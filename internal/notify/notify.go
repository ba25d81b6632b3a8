package notify

import (
	"context"
	"fmt"
	"time"

	"marketplace-wallet/pkg/logger"

	"github.com/go-resty/resty/v2"
)

// Notifier 用户通知接口。尽力投递，失败只记日志。
type Notifier interface {
	NotifyDeposit(ctx context.Context, userID uint, purchaseID string, result string)
}

// Telegram 通过Bot API推送通知
type Telegram struct {
	rest *resty.Client
}

// NewTelegram 创建Telegram通知器
func NewTelegram(botToken string, timeout time.Duration) *Telegram {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Telegram{
		rest: resty.New().
			SetBaseURL(fmt.Sprintf("https://api.telegram.org/bot%s", botToken)).
			SetTimeout(timeout),
	}
}

// NotifyDeposit 推送充值结果
func (t *Telegram) NotifyDeposit(ctx context.Context, userID uint, purchaseID string, result string) {
	var text string
	switch result {
	case "confirmed":
		text = fmt.Sprintf("✅ Payment for purchase %s confirmed. Tokens have been credited to your balance.", purchaseID)
	case "expired":
		text = fmt.Sprintf("⏰ Payment window for purchase %s has expired. Please create a new purchase.", purchaseID)
	default:
		text = fmt.Sprintf("Purchase %s status: %s", purchaseID, result)
	}

	resp, err := t.rest.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"chat_id": userID,
			"text":    text,
		}).
		Post("/sendMessage")
	if err != nil {
		logger.Warnf("Failed to notify user %d about purchase %s: %v", userID, purchaseID, err)
		return
	}
	if resp.IsError() {
		logger.Warnf("Telegram rejected notification for user %d: http %d", userID, resp.StatusCode())
	}
}

// Nop 空通知器，通知未配置时使用
type Nop struct{}

// NotifyDeposit 仅记录日志
func (Nop) NotifyDeposit(_ context.Context, userID uint, purchaseID string, result string) {
	logger.Debugf("Notification suppressed: user=%d purchase=%s result=%s", userID, purchaseID, result)
}

var (
	_ Notifier = (*Telegram)(nil)
	_ Notifier = Nop{}
)
