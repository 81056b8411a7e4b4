package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shuttlemath/guessit/internal/services/round"
)

type balanceReader interface {
	Balance(ctx context.Context) (int64, error)
}

func playCmd(sh *shell) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play one round (costs 1 coin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := round.ParseMode(mode)
			if err != nil {
				return err
			}

			engine := round.NewEngine(sh.ledger)

			return playRound(cmd.Context(), engine, sh.ledger, m, sh.in, sh.out)
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", string(round.ModeFun), "fun (7 tries, +1) or serious (6 tries, +2)")

	return cmd
}

// playRound runs one round reading guesses line by line from in. "q" gives
// up the round.
func playRound(ctx context.Context, engine *round.Engine, balances balanceReader, mode round.Mode, in io.Reader, out io.Writer) error {
	r, err := engine.Start(ctx, mode)
	if err != nil {
		if errors.Is(err, round.ErrInsufficientCoins) {
			fmt.Fprintln(out, "Not enough coins. Buy some with: guessit buy")
		}

		return err
	}

	fmt.Fprintf(out, "Round started (%s, %d tries). Guess a number between %d and %d.\n",
		mode, mode.MaxTries(), round.MinValue, round.MaxValue)

	scanner := bufio.NewScanner(in)
	for r.Status() == round.StatusActive {
		fmt.Fprintf(out, "[%d left] > ", r.TriesLeft())

		if !scanner.Scan() {
			engine.Resign(r)
			fmt.Fprintln(out, "\nInput closed, round discarded.")

			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "q" || line == "quit" {
			engine.Resign(r)
			secret, _ := r.Secret()
			fmt.Fprintf(out, "Round discarded. The number was %d.\n", secret)

			return nil
		}

		value, err := strconv.Atoi(line)
		if err != nil {
			fmt.Fprintln(out, "Enter a whole number, or q to give up.")
			continue
		}

		o, err := engine.Guess(ctx, r, value)
		switch {
		case errors.Is(err, round.ErrOutOfRange), errors.Is(err, round.ErrDuplicateGuess):
			fmt.Fprintln(out, err)
			continue
		case err != nil && o.Status != round.StatusWon:
			return err
		}

		printOutcome(out, r, o)

		if err != nil {
			// Won, but the payout did not persist. Try once more.
			err = engine.Settle(ctx, r)
			if err != nil {
				return fmt.Errorf("payout not credited: %w", err)
			}
		}
	}

	b, err := balances.Balance(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Balance: %d coins\n", b)

	return nil
}

func printOutcome(out io.Writer, r *round.Round, o round.Outcome) {
	switch o.Status {
	case round.StatusWon:
		fmt.Fprintf(out, "Correct! %d it is. +%d coins\n", o.Secret, r.Mode().Payout())
	case round.StatusLost:
		fmt.Fprintf(out, "%d is wrong and you are out of tries. The number was %d.\n", o.Guess, o.Secret)
	default:
		lower, higher := r.Partition()
		fmt.Fprintf(out, "Go %s. too low: %v  too high: %v\n", o.Hint, lower, higher)
	}
}
