// Package round implements one round of the number-guessing game and the
// engine that charges the entry fee and pays out wins through the ledger.
package round

import (
	"errors"
	"fmt"
	"slices"
)

const (
	MinValue = 1
	MaxValue = 100

	// EntryFee is debited when a round starts, whatever the mode.
	EntryFee int64 = 1
)

var (
	ErrOutOfRange        = errors.New("guess out of range")
	ErrDuplicateGuess    = errors.New("number already guessed")
	ErrRoundOver         = errors.New("round is over")
	ErrUnknownMode       = errors.New("unknown mode")
	ErrInsufficientCoins = errors.New("not enough coins to start a round")
)

type Mode string

const (
	ModeFun     Mode = "fun"
	ModeSerious Mode = "serious"
)

// ParseMode accepts the mode names case-sensitively.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}

	return m, nil
}

func (m Mode) Valid() bool {
	return m == ModeFun || m == ModeSerious
}

func (m Mode) MaxTries() int {
	if m == ModeSerious {
		return 6
	}

	return 7
}

// Payout is credited on a win. In fun mode it only refunds the entry fee.
func (m Mode) Payout() int64 {
	if m == ModeSerious {
		return 2
	}

	return 1
}

type Status string

const (
	StatusActive Status = "active"
	StatusWon    Status = "won"
	StatusLost   Status = "lost"
)

func (s Status) Terminal() bool {
	return s == StatusWon || s == StatusLost
}

type Hint string

const (
	HintHigher  Hint = "higher"
	HintLower   Hint = "lower"
	HintCorrect Hint = "correct"
)

// Outcome describes the effect of one accepted guess. Secret is set only
// once the round has ended.
type Outcome struct {
	Guess     int
	Hint      Hint
	Status    Status
	TriesLeft int
	Secret    int
}

// Round is one play-through. It is not safe for concurrent use; a session
// drives it from a single goroutine.
type Round struct {
	secret   int
	mode     Mode
	history  []int
	status   Status
	paid     bool
	resigned bool
}

// New starts a round with a known secret. Engine.Start is the normal entry
// point; New is exposed for callers that draw secrets themselves.
func New(mode Mode, secret int) (*Round, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	if secret < MinValue || secret > MaxValue {
		return nil, fmt.Errorf("secret %d: %w", secret, ErrOutOfRange)
	}

	return &Round{
		secret:  secret,
		mode:    mode,
		history: make([]int, 0, mode.MaxTries()),
		status:  StatusActive,
	}, nil
}

// Guess evaluates value. Rejected guesses (out of range, duplicate, round
// over) change nothing and consume no try.
func (r *Round) Guess(value int) (Outcome, error) {
	if r.status != StatusActive || r.resigned {
		return Outcome{}, ErrRoundOver
	}
	if value < MinValue || value > MaxValue {
		return Outcome{}, fmt.Errorf("%d not in [%d,%d]: %w", value, MinValue, MaxValue, ErrOutOfRange)
	}
	if slices.Contains(r.history, value) {
		return Outcome{}, fmt.Errorf("%d: %w", value, ErrDuplicateGuess)
	}

	r.history = append(r.history, value)

	out := Outcome{Guess: value}

	switch {
	case value == r.secret:
		r.status = StatusWon
		out.Hint = HintCorrect
	case value < r.secret:
		out.Hint = HintHigher
	default:
		out.Hint = HintLower
	}

	if r.status == StatusActive && len(r.history) == r.mode.MaxTries() {
		r.status = StatusLost
	}

	out.Status = r.status
	out.TriesLeft = r.TriesLeft()
	if r.status.Terminal() {
		out.Secret = r.secret
	}

	return out, nil
}

func (r *Round) Mode() Mode     { return r.mode }
func (r *Round) Status() Status { return r.status }
func (r *Round) Resigned() bool { return r.resigned }
func (r *Round) Paid() bool     { return r.paid }

func (r *Round) TriesLeft() int {
	return r.mode.MaxTries() - len(r.history)
}

// History returns the accepted guesses in submission order.
func (r *Round) History() []int {
	return slices.Clone(r.history)
}

// Secret reveals the secret once the round is over.
func (r *Round) Secret() (int, bool) {
	if !r.status.Terminal() && !r.resigned {
		return 0, false
	}

	return r.secret, true
}

// Partition splits the history into guesses below and above the secret,
// each sorted ascending. A correct guess is in neither.
func (r *Round) Partition() (lower, higher []int) {
	for _, g := range r.history {
		switch {
		case g < r.secret:
			lower = append(lower, g)
		case g > r.secret:
			higher = append(higher, g)
		}
	}

	slices.Sort(lower)
	slices.Sort(higher)

	return lower, higher
}
