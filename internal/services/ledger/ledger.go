// Package ledger owns the coin balance. All reads and writes go through a
// single goroutine, so debits from round starts and credits from purchase
// confirmations are applied one after another, never interleaved.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shuttlemath/guessit/internal/repos/coins"
)

// DefaultBalance is the balance a client starts with when nothing has been
// stored yet.
const DefaultBalance int64 = 10

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidInvoice    = errors.New("invoice id required")
	ErrClosed            = errors.New("ledger closed")
)

type opKind int

const (
	opBalance opKind = iota
	opDebit
	opCredit
	opCreditInvoice
	opCredited
)

type request struct {
	ctx       context.Context
	kind      opKind
	amount    int64
	invoiceID string
	reply     chan result
}

type result struct {
	balance  int64
	credited bool
	err      error
}

type Ledger struct {
	store   coins.Coins
	logger  *slog.Logger
	reqs    chan request
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once

	// balance is touched only by the run goroutine.
	balance int64
}

type Option func(*Ledger)

func WithLogger(l *slog.Logger) Option {
	return func(lg *Ledger) { lg.logger = l }
}

// Open loads the stored balance (initialising it to defaultBalance when the
// store is empty) and starts the owning goroutine. Call Close at session end.
func Open(ctx context.Context, store coins.Coins, defaultBalance int64, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		store:   store,
		logger:  slog.Default(),
		reqs:    make(chan request),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	balance, found, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load balance: %w", err)
	}

	if !found {
		err = store.Apply(ctx, coins.Mutation{Balance: defaultBalance})
		if err != nil {
			return nil, fmt.Errorf("init balance: %w", err)
		}

		balance = defaultBalance
		l.logger.Info("ledger initialised", "balance", balance)
	}

	l.balance = balance

	go l.run()

	return l, nil
}

// Close stops the owning goroutine. It is safe to call more than once.
func (l *Ledger) Close() {
	l.once.Do(func() { close(l.done) })
	<-l.stopped
}

func (l *Ledger) Balance(ctx context.Context) (int64, error) {
	res, err := l.do(ctx, request{kind: opBalance})
	if err != nil {
		return 0, err
	}

	return res.balance, nil
}

// Debit subtracts n coins. It fails with ErrInsufficientFunds, leaving the
// balance unchanged, when fewer than n coins are held.
func (l *Ledger) Debit(ctx context.Context, n int64) error {
	if n <= 0 {
		return ErrInvalidAmount
	}

	_, err := l.do(ctx, request{kind: opDebit, amount: n})

	return err
}

func (l *Ledger) Credit(ctx context.Context, n int64) error {
	if n <= 0 {
		return ErrInvalidAmount
	}

	_, err := l.do(ctx, request{kind: opCredit, amount: n})

	return err
}

// CreditInvoice credits n coins for invoiceID at most once. It reports
// credited=false without error when the invoice was credited before, in
// this session or an earlier one.
func (l *Ledger) CreditInvoice(ctx context.Context, invoiceID string, n int64) (bool, error) {
	if invoiceID == "" {
		return false, ErrInvalidInvoice
	}
	if n <= 0 {
		return false, ErrInvalidAmount
	}

	res, err := l.do(ctx, request{kind: opCreditInvoice, amount: n, invoiceID: invoiceID})
	if err != nil {
		return false, err
	}

	return res.credited, nil
}

func (l *Ledger) InvoiceCredited(ctx context.Context, invoiceID string) (bool, error) {
	res, err := l.do(ctx, request{kind: opCredited, invoiceID: invoiceID})
	if err != nil {
		return false, err
	}

	return res.credited, nil
}

func (l *Ledger) do(ctx context.Context, req request) (result, error) {
	req.ctx = ctx
	req.reply = make(chan result, 1)

	select {
	case l.reqs <- req:
	case <-l.done:
		return result{}, ErrClosed
	case <-ctx.Done():
		return result{}, ctx.Err()
	}

	// Once accepted the request always completes; the store write is bounded
	// by req.ctx.
	res := <-req.reply

	return res, res.err
}

func (l *Ledger) run() {
	defer close(l.stopped)

	for {
		select {
		case <-l.done:
			return
		case req := <-l.reqs:
			req.reply <- l.apply(req)
		}
	}
}

func (l *Ledger) apply(req request) result {
	switch req.kind {
	case opBalance:
		return result{balance: l.balance}

	case opCredited:
		ok, err := l.store.Credited(req.ctx, req.invoiceID)
		if err != nil {
			return result{err: fmt.Errorf("check credited: %w", err)}
		}

		return result{credited: ok, balance: l.balance}

	case opDebit:
		if l.balance < req.amount {
			return result{balance: l.balance, err: ErrInsufficientFunds}
		}

		return l.commit(req.ctx, coins.Mutation{Balance: l.balance - req.amount}, "debit")

	case opCredit:
		return l.commit(req.ctx, coins.Mutation{Balance: l.balance + req.amount}, "credit")

	case opCreditInvoice:
		res := l.commit(req.ctx, coins.Mutation{
			Balance:   l.balance + req.amount,
			InvoiceID: req.invoiceID,
			Coins:     req.amount,
		}, "credit invoice")
		if errors.Is(res.err, coins.ErrAlreadyCredited) {
			l.logger.Info("invoice already credited", "invoice_id", req.invoiceID)

			return result{balance: l.balance}
		}

		res.credited = res.err == nil

		return res

	default:
		return result{err: fmt.Errorf("unknown ledger op %d", req.kind)}
	}
}

// commit persists m and only then adopts the new balance.
func (l *Ledger) commit(ctx context.Context, m coins.Mutation, op string) result {
	err := l.store.Apply(ctx, m)
	if err != nil {
		if errors.Is(err, coins.ErrAlreadyCredited) {
			return result{balance: l.balance, err: err}
		}

		l.logger.Error("ledger write failed", "op", op, "error", err)

		return result{balance: l.balance, err: fmt.Errorf("%s: persist: %w", op, err)}
	}

	l.logger.Debug("ledger write", "op", op, "from", l.balance, "to", m.Balance, "invoice_id", m.InvoiceID)
	l.balance = m.Balance

	return result{balance: l.balance}
}
