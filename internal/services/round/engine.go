package round

import (
	"context"
	crand "crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/shuttlemath/guessit/internal/services/ledger"
)

// Ledger is the part of the coin ledger the engine needs.
type Ledger interface {
	Debit(ctx context.Context, n int64) error
	Credit(ctx context.Context, n int64) error
}

// SecretSource draws a secret uniformly from [MinValue, MaxValue].
type SecretSource func() (int, error)

// CryptoSecret draws secrets from crypto/rand.
func CryptoSecret() (int, error) {
	n, err := crand.Int(crand.Reader, big.NewInt(MaxValue-MinValue+1))
	if err != nil {
		return 0, fmt.Errorf("draw secret: %w", err)
	}

	return int(n.Int64()) + MinValue, nil
}

// FixedSecret always returns secret.
func FixedSecret(secret int) SecretSource {
	return func() (int, error) { return secret, nil }
}

type Engine struct {
	ledger  Ledger
	secrets SecretSource
	logger  *slog.Logger
}

type EngineOption func(*Engine)

func WithSecretSource(src SecretSource) EngineOption {
	return func(e *Engine) { e.secrets = src }
}

func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(l Ledger, opts ...EngineOption) *Engine {
	e := &Engine{
		ledger:  l,
		secrets: CryptoSecret,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Start charges the entry fee and opens a round. The secret is drawn before
// the debit, so a round exists if and only if its fee was taken.
func (e *Engine) Start(ctx context.Context, mode Mode) (*Round, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	secret, err := e.secrets()
	if err != nil {
		return nil, fmt.Errorf("start round: %w", err)
	}

	r, err := New(mode, secret)
	if err != nil {
		return nil, fmt.Errorf("start round: %w", err)
	}

	err = e.ledger.Debit(ctx, EntryFee)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return nil, fmt.Errorf("%w: %w", ErrInsufficientCoins, err)
		}

		return nil, fmt.Errorf("debit entry fee: %w", err)
	}

	e.logger.Info("round started", "mode", mode)

	return r, nil
}

// Guess submits value and, when it wins, credits the payout. If the payout
// write fails the outcome is still returned together with the error; call
// Settle to retry.
func (e *Engine) Guess(ctx context.Context, r *Round, value int) (Outcome, error) {
	out, err := r.Guess(value)
	if err != nil {
		return Outcome{}, err
	}

	switch out.Status {
	case StatusWon:
		e.logger.Info("round won", "mode", r.mode, "tries", len(r.history))

		err = e.Settle(ctx, r)
		if err != nil {
			return out, err
		}
	case StatusLost:
		e.logger.Info("round lost", "mode", r.mode)
	}

	return out, nil
}

// Settle credits the payout of a won round exactly once. It is a no-op for
// rounds that are not won or already paid.
func (e *Engine) Settle(ctx context.Context, r *Round) error {
	if r.status != StatusWon || r.paid {
		return nil
	}

	err := e.ledger.Credit(ctx, r.mode.Payout())
	if err != nil {
		return fmt.Errorf("credit payout: %w", err)
	}

	r.paid = true

	return nil
}

// Resign discards an unfinished round. The entry fee is not refunded.
func (e *Engine) Resign(r *Round) {
	if r.status.Terminal() || r.resigned {
		return
	}

	r.resigned = true
	e.logger.Info("round resigned", "mode", r.mode, "tries", len(r.history))
}
