package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketplace-wallet/pkg/cache"
	"marketplace-wallet/pkg/logger"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

var ErrRateUnavailable = errors.New("exchange rate unavailable")

const cacheTTL = 60 * time.Second

// Source 汇率查询接口
type Source interface {
	GetRate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// Service 行情服务，带Redis缓存。调用方负责降级到固定汇率。
type Service struct {
	rest *resty.Client
}

// New 创建行情服务
func New(apiURL string, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{
		rest: resty.New().SetBaseURL(apiURL).SetTimeout(timeout),
	}
}

// GetRate 查询from/to汇率
func (s *Service) GetRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	key := fmt.Sprintf("rate:%s:%s", from, to)

	var cached string
	if err := cache.Get(ctx, key, &cached); err == nil {
		if rate, err := decimal.NewFromString(cached); err == nil {
			return rate, nil
		}
	}

	var out map[string]decimal.Decimal
	resp, err := s.rest.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"fsym":  from,
			"tsyms": to,
		}).
		SetResult(&out).
		Get("")
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}
	if resp.IsError() {
		return decimal.Zero, fmt.Errorf("%w: http %d", ErrRateUnavailable, resp.StatusCode())
	}

	rate, ok := out[strings.ToUpper(to)]
	if !ok || rate.Sign() <= 0 {
		return decimal.Zero, ErrRateUnavailable
	}

	if err := cache.Set(ctx, key, rate.String(), cacheTTL); err != nil {
		logger.Debugf("Failed to cache rate %s/%s: %v", from, to, err)
	}
	return rate, nil
}

var _ Source = (*Service)(nil)
