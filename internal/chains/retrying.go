package chains

import (
	"context"
	"errors"
	"time"

	"github.com/rawblock/wallet-investigator/internal/retry"
	"github.com/rawblock/wallet-investigator/pkg/models"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// RetryingAdapter retries rate-limited and unavailable responses of the
// wrapped adapter. Any other error is returned immediately.
type RetryingAdapter struct {
	inner  Adapter
	policy retry.Policy
}

// WithRetry wraps a so that retryable failures are retried per policy
func WithRetry(a Adapter, policy retry.Policy) *RetryingAdapter {
	policy.Classify = func(err error) retry.Class {
		if models.IsRetryable(err) {
			return retry.Retryable
		}
		return retry.Fatal
	}
	policy.Hint = func(err error) time.Duration {
		var limited *models.RateLimitedError
		if errors.As(err, &limited) {
			return limited.RetryAfter
		}
		return 0
	}
	chain := a.Chain()
	policy.OnRetry = func(attempt int, wait time.Duration, err error) {
		log.Debug().Str("chain", string(chain)).Int("attempt", attempt).
			Dur("wait", wait).Err(err).Msg("chains: retrying adapter call")
	}
	return &RetryingAdapter{inner: a, policy: policy}
}

func (r *RetryingAdapter) Chain() models.ChainID { return r.inner.Chain() }

func (r *RetryingAdapter) FetchTransactions(ctx context.Context, addr models.Address, cursor string) (models.TransactionPage, error) {
	var page models.TransactionPage
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		var err error
		page, err = r.inner.FetchTransactions(ctx, addr, cursor)
		return err
	})
	return page, err
}

// FetchBalance retries when the wrapped adapter supports balances
func (r *RetryingAdapter) FetchBalance(ctx context.Context, addr models.Address) (decimal.Decimal, error) {
	bf, ok := r.inner.(BalanceFetcher)
	if !ok {
		return decimal.Zero, errors.New("balance lookup not supported")
	}
	var bal decimal.Decimal
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		var err error
		bal, err = bf.FetchBalance(ctx, addr)
		return err
	})
	return bal, err
}
