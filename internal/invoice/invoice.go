// Package invoice holds the purchase-attempt model shared by the payment
// proxy, the gateway client and the reconciliation controller.
package invoice

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrBelowMinimum   = errors.New("coins below minimum purchase")
	ErrUnknownNetwork = errors.New("unknown network")
)

// Network is the chain the buyer pays on.
type Network string

const (
	NetworkTron    Network = "TRON"
	NetworkPolygon Network = "POLYGON"
)

// payCurrencies maps each network to the gateway's currency code.
var payCurrencies = map[Network]string{
	NetworkTron:    "USDTTRC20",
	NetworkPolygon: "USDTPOLYGON",
}

func ParseNetwork(s string) (Network, error) {
	n := Network(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := payCurrencies[n]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownNetwork, s)
	}

	return n, nil
}

// PayCurrency returns the gateway currency code. The same code is used as
// the price currency, so no conversion estimate is ever requested.
func (n Network) PayCurrency() string {
	return payCurrencies[n]
}

// State is the reconciliation state of an invoice. It is monotonic: once
// confirmed or failed it never changes again.
type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
)

func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// Advance returns the state after observing next, keeping terminal states.
func (s State) Advance(next State) State {
	if s.Terminal() {
		return s
	}

	return next
}

// Created is the normalised result of the gateway create operation.
type Created struct {
	ID      string
	Address string
	Memo    string
	Coins   *int64
}

type Invoice struct {
	ID                 string
	Network            Network
	CoinsRequested     int64
	PriceTotal         decimal.Decimal
	PayoutAddressOrURL string
	Memo               string
	State              State
	// Credited is set exactly once, when the ledger has been credited.
	Credited  bool
	CreatedAt time.Time
}

// IsRedirect reports whether the buyer completes payment on a hosted page
// instead of sending funds to a wallet address.
func (inv Invoice) IsRedirect() bool {
	a := strings.ToLower(inv.PayoutAddressOrURL)

	return strings.HasPrefix(a, "https://") || strings.HasPrefix(a, "http://")
}
