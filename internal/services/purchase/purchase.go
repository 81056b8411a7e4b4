// Package purchase reconciles coin purchases against the payment gateway.
//
// A Controller runs at most one purchase at a time. Creating the invoice is
// synchronous; confirmation is polled in the background until the invoice
// reaches a terminal status, the buyer abandons it, or the polling window
// (if any) elapses. Coins are credited to the ledger at most once per
// invoice.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/shuttlemath/guessit/internal/config"
	"github.com/shuttlemath/guessit/internal/invoice"
)

type State string

const (
	StateIdle            State = "idle"
	StateAwaitingInvoice State = "awaiting_invoice"
	StatePolling         State = "polling"
	StateSettled         State = "settled"
	StateAborted         State = "aborted"
)

// InProgress reports whether a purchase is still open.
func (s State) InProgress() bool {
	return s == StateAwaitingInvoice || s == StatePolling
}

var (
	ErrPurchaseInProgress = errors.New("purchase already in progress")
	ErrPaymentFailed      = errors.New("payment failed or expired")
	ErrPurchaseExpired    = errors.New("payment not confirmed in time")
	ErrAbandoned          = errors.New("purchase abandoned")
	ErrNotPolling         = errors.New("no purchase awaiting confirmation")
	ErrClosed             = errors.New("purchase controller closed")
	ErrInvalidInvoice     = errors.New("invoice id required")
)

type Gateway interface {
	CreateInvoice(ctx context.Context, network invoice.Network, amount decimal.Decimal, coins int64) (invoice.Created, error)
	InvoiceStatus(ctx context.Context, id string) (invoice.State, error)
}

type Ledger interface {
	CreditInvoice(ctx context.Context, invoiceID string, n int64) (bool, error)
	InvoiceCredited(ctx context.Context, invoiceID string) (bool, error)
}

// Policy controls polling cadence. A zero MaxDuration polls until the
// invoice reaches a terminal status.
type Policy struct {
	InitialDelay time.Duration
	Interval     time.Duration
	CheckTimeout time.Duration
	MaxDuration  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: 1500 * time.Millisecond,
		Interval:     30 * time.Second,
		CheckTimeout: 20 * time.Second,
	}
}

// Event describes a state transition or a transient polling failure.
type Event struct {
	State     State
	Invoice   *invoice.Invoice
	Err       error
	Transient bool
}

type Observer func(Event)

type Option func(*Controller)

func WithPricing(p invoice.Pricing) Option {
	return func(c *Controller) { c.pricing = p }
}

func WithPolicy(p Policy) Option {
	return func(c *Controller) { c.policy = p }
}

// WithConfig applies both the pricing and the polling policy from cfg.
func WithConfig(cfg config.PurchaseConfig) Option {
	return func(c *Controller) {
		c.pricing.PricePerCoin = cfg.PricePerCoin
		c.pricing.MinimumCoins = cfg.MinimumCoins
		c.policy = Policy{
			InitialDelay: cfg.InitialDelay,
			Interval:     cfg.Interval,
			CheckTimeout: cfg.CheckTimeout,
			MaxDuration:  cfg.MaxDuration,
		}
	}
}

// WithObserver registers fn for every Event. fn runs outside the controller
// lock and may call back into the controller.
func WithObserver(fn Observer) Option {
	return func(c *Controller) { c.observer = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

type Controller struct {
	gateway  Gateway
	ledger   Ledger
	pricing  invoice.Pricing
	policy   Policy
	observer Observer
	logger   *slog.Logger

	base     context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup

	// Everything below is guarded by mu.
	mu      sync.Mutex
	state   State
	current *invoice.Invoice
	lastErr error
	// token identifies the live purchase. Work started for an older token
	// must not touch state.
	token  uint64
	cancel context.CancelFunc
	kick   chan struct{}
	closed bool
}

func New(gw Gateway, l Ledger, opts ...Option) *Controller {
	base, shutdown := context.WithCancel(context.Background())

	c := &Controller{
		gateway:  gw,
		ledger:   l,
		pricing:  invoice.DefaultPricing(),
		policy:   DefaultPolicy(),
		logger:   slog.Default(),
		base:     base,
		shutdown: shutdown,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Controller) Pricing() invoice.Pricing { return c.pricing }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Invoice returns a copy of the current invoice, if any.
func (c *Controller) Invoice() (invoice.Invoice, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return invoice.Invoice{}, false
	}

	return *c.current, true
}

// Err returns the error that ended the last purchase, or the last
// transient polling error while still polling.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastErr
}

// Begin creates an invoice for coins on network and starts polling it.
func (c *Controller) Begin(ctx context.Context, coins int64, network invoice.Network) (invoice.Invoice, error) {
	total, err := c.pricing.Total(coins)
	if err != nil {
		return invoice.Invoice{}, err
	}

	c.mu.Lock()
	err = c.admitLocked()
	if err != nil {
		c.mu.Unlock()
		return invoice.Invoice{}, err
	}

	c.token++
	tok := c.token
	createCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = StateAwaitingInvoice
	c.current = nil
	c.lastErr = nil
	ev := c.eventLocked(nil, false)
	c.mu.Unlock()

	c.emit(ev)
	c.logger.Info("creating invoice", "coins", coins, "network", network, "total", total.StringFixed(c.pricing.Places))

	created, err := c.gateway.CreateInvoice(createCtx, network, total, coins)
	cancel()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return invoice.Invoice{}, ErrClosed
	}
	if c.token != tok {
		c.mu.Unlock()
		return invoice.Invoice{}, ErrAbandoned
	}

	if err != nil {
		c.state = StateAborted
		c.lastErr = err
		ev = c.eventLocked(err, false)
		c.mu.Unlock()

		c.emit(ev)
		c.logger.Warn("invoice creation failed", "error", err)

		return invoice.Invoice{}, fmt.Errorf("create invoice: %w", err)
	}

	c.current = &invoice.Invoice{
		ID:                 created.ID,
		Network:            network,
		CoinsRequested:     coins,
		PriceTotal:         total,
		PayoutAddressOrURL: created.Address,
		Memo:               created.Memo,
		State:              invoice.StatePending,
		CreatedAt:          time.Now(),
	}
	c.state = StatePolling
	c.startPollingLocked(tok, c.policy.InitialDelay)
	inv := *c.current
	ev = c.eventLocked(nil, false)
	c.mu.Unlock()

	c.emit(ev)
	c.logger.Info("invoice created", "invoice", inv.ID, "redirect", inv.IsRedirect())

	return inv, nil
}

// Resume re-enters polling for an invoice created in an earlier session.
// An invoice the ledger already credited settles immediately.
func (c *Controller) Resume(ctx context.Context, inv invoice.Invoice) error {
	if strings.TrimSpace(inv.ID) == "" {
		return ErrInvalidInvoice
	}

	err := c.pricing.Validate(inv.CoinsRequested)
	if err != nil {
		return fmt.Errorf("resume invoice %s: %w", inv.ID, err)
	}

	credited, err := c.ledger.InvoiceCredited(ctx, inv.ID)
	if err != nil {
		return fmt.Errorf("check invoice %s: %w", inv.ID, err)
	}

	c.mu.Lock()
	err = c.admitLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}

	c.token++
	cp := inv
	c.current = &cp
	c.lastErr = nil

	if credited {
		cp.State = invoice.StateConfirmed
		cp.Credited = true
		c.state = StateSettled
	} else {
		cp.State = invoice.StatePending
		c.state = StatePolling
		c.startPollingLocked(c.token, 0)
	}
	ev := c.eventLocked(nil, false)
	c.mu.Unlock()

	c.emit(ev)
	c.logger.Info("purchase resumed", "invoice", inv.ID, "already_credited", credited)

	return nil
}

// CheckNow schedules an immediate status check of the polled invoice.
func (c *Controller) CheckNow() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StatePolling {
		return ErrNotPolling
	}

	select {
	case c.kick <- struct{}{}:
	default:
	}

	return nil
}

// Abandon aborts an open purchase and stops polling it. The invoice itself
// is left alone at the gateway. It reports whether anything was abandoned.
func (c *Controller) Abandon() bool {
	c.mu.Lock()
	if !c.state.InProgress() {
		c.mu.Unlock()
		return false
	}

	c.stopLocked()
	c.state = StateAborted
	c.lastErr = ErrAbandoned
	ev := c.eventLocked(ErrAbandoned, false)
	c.mu.Unlock()

	c.emit(ev)
	c.logger.Info("purchase abandoned")

	return true
}

// Close stops background polling and waits for it to exit. The state of an
// open purchase is kept so it can be inspected or resumed elsewhere.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.stopLocked()
	c.mu.Unlock()

	c.shutdown()
	c.wg.Wait()
}

func (c *Controller) admitLocked() error {
	if c.closed {
		return ErrClosed
	}
	if c.state.InProgress() {
		return ErrPurchaseInProgress
	}

	return nil
}

// stopLocked invalidates the live token and cancels in-flight work.
func (c *Controller) stopLocked() {
	c.token++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Controller) eventLocked(err error, transient bool) Event {
	ev := Event{State: c.state, Err: err, Transient: transient}
	if c.current != nil {
		cp := *c.current
		ev.Invoice = &cp
	}

	return ev
}

func (c *Controller) emit(ev Event) {
	if c.observer != nil {
		c.observer(ev)
	}
}
