package purchase

import (
	"context"
	"time"

	"github.com/shuttlemath/guessit/internal/invoice"
)

// startPollingLocked launches the polling goroutine for the live token.
func (c *Controller) startPollingLocked(tok uint64, delay time.Duration) {
	ctx, cancel := context.WithCancel(c.base)
	c.cancel = cancel
	c.kick = make(chan struct{}, 1)

	id := c.current.ID
	coins := c.current.CoinsRequested

	c.wg.Add(1)
	go c.poll(ctx, tok, id, coins, delay, c.kick)
}

func (c *Controller) poll(ctx context.Context, tok uint64, id string, coins int64, delay time.Duration, kick <-chan struct{}) {
	defer c.wg.Done()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	var deadline <-chan time.Time
	if c.policy.MaxDuration > 0 {
		dt := time.NewTimer(c.policy.MaxDuration)
		defer dt.Stop()
		deadline = dt.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			c.expire(tok, id)
			return
		case <-kick:
		case <-timer.C:
		}

		if c.check(ctx, tok, id, coins) {
			return
		}

		timer.Reset(c.policy.Interval)
	}
}

// check runs one status check and reports whether polling is over.
func (c *Controller) check(ctx context.Context, tok uint64, id string, coins int64) bool {
	checkCtx, cancel := context.WithTimeout(ctx, c.policy.CheckTimeout)
	status, err := c.gateway.InvoiceStatus(checkCtx, id)
	cancel()

	c.mu.Lock()
	if c.token != tok || c.state != StatePolling || ctx.Err() != nil {
		c.mu.Unlock()
		return true
	}

	if err != nil {
		c.lastErr = err
		ev := c.eventLocked(err, true)
		c.mu.Unlock()

		c.emit(ev)
		c.logger.Warn("payment status check failed, still checking", "invoice", id, "error", err)

		return false
	}

	switch status {
	case invoice.StateConfirmed:
		return c.settleLocked(ctx, id, coins)
	case invoice.StateFailed:
		c.current.State = c.current.State.Advance(invoice.StateFailed)
		c.state = StateAborted
		c.lastErr = ErrPaymentFailed
		c.releaseLocked()
		ev := c.eventLocked(ErrPaymentFailed, false)
		c.mu.Unlock()

		c.emit(ev)
		c.logger.Info("payment failed", "invoice", id)

		return true
	default:
		c.mu.Unlock()
		c.logger.Debug("payment pending", "invoice", id)

		return false
	}
}

// settleLocked credits the ledger while still holding mu, so an abandon
// cannot slip in between the token check and the credit. It unlocks mu.
func (c *Controller) settleLocked(ctx context.Context, id string, coins int64) bool {
	if c.current.Credited {
		c.mu.Unlock()
		return true
	}

	credited, err := c.ledger.CreditInvoice(ctx, id, coins)
	if err != nil {
		c.lastErr = err
		ev := c.eventLocked(err, true)
		c.mu.Unlock()

		c.emit(ev)
		c.logger.Error("crediting confirmed invoice failed, will retry", "invoice", id, "error", err)

		return false
	}

	c.current.State = c.current.State.Advance(invoice.StateConfirmed)
	c.current.Credited = true
	c.state = StateSettled
	c.lastErr = nil
	c.releaseLocked()
	ev := c.eventLocked(nil, false)
	c.mu.Unlock()

	c.emit(ev)
	c.logger.Info("payment confirmed", "invoice", id, "coins", coins, "newly_credited", credited)

	return true
}

func (c *Controller) expire(tok uint64, id string) {
	c.mu.Lock()
	if c.token != tok || c.state != StatePolling {
		c.mu.Unlock()
		return
	}

	c.state = StateAborted
	c.lastErr = ErrPurchaseExpired
	c.releaseLocked()
	ev := c.eventLocked(ErrPurchaseExpired, false)
	c.mu.Unlock()

	c.emit(ev)
	c.logger.Info("payment not confirmed in time", "invoice", id)
}

// releaseLocked frees the polling context once the purchase has settled or
// aborted on its own. The token stays valid.
func (c *Controller) releaseLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}
