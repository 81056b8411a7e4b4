package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shuttlemath/guessit/internal/gateway"
	"github.com/shuttlemath/guessit/internal/invoice"
	"github.com/shuttlemath/guessit/internal/services/purchase"
)

func buyCmd(sh *shell) *cobra.Command {
	var (
		coins   int64
		network string
	)

	cmd := &cobra.Command{
		Use:   "buy",
		Short: "Buy coins with USDT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := invoice.ParseNetwork(network)
			if err != nil {
				return err
			}

			ctrl, events := sh.newController()
			defer ctrl.Close()

			inv, err := ctrl.Begin(cmd.Context(), coins, n)
			if err != nil {
				return err
			}

			printInstructions(sh.out, inv)

			return awaitPurchase(cmd.Context(), ctrl, events, sh.in, sh.out)
		},
	}

	cmd.Flags().Int64VarP(&coins, "coins", "c", 13, "coins to buy (minimum 13)")
	cmd.Flags().StringVarP(&network, "network", "n", string(invoice.NetworkTron), "TRON or POLYGON")

	return cmd
}

func resumeCmd(sh *shell) *cobra.Command {
	var (
		id      string
		coins   int64
		network string
	)

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Keep checking a payment started earlier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := invoice.ParseNetwork(network)
			if err != nil {
				return err
			}

			ctrl, events := sh.newController()
			defer ctrl.Close()

			err = ctrl.Resume(cmd.Context(), invoice.Invoice{ID: id, Network: n, CoinsRequested: coins})
			if err != nil {
				return err
			}

			return awaitPurchase(cmd.Context(), ctrl, events, sh.in, sh.out)
		},
	}

	cmd.Flags().StringVar(&id, "invoice", "", "invoice id printed by buy")
	cmd.Flags().Int64VarP(&coins, "coins", "c", 13, "coins requested on that invoice")
	cmd.Flags().StringVarP(&network, "network", "n", string(invoice.NetworkTron), "TRON or POLYGON")
	_ = cmd.MarkFlagRequired("invoice")

	return cmd
}

func (sh *shell) newController() (*purchase.Controller, <-chan purchase.Event) {
	events := make(chan purchase.Event, 16)

	ctrl := purchase.New(
		gateway.New(sh.cfg.Gateway),
		sh.ledger,
		purchase.WithConfig(sh.cfg.Purchase),
		purchase.WithLogger(slog.Default()),
		purchase.WithObserver(func(ev purchase.Event) {
			select {
			case events <- ev:
			default:
				slog.Warn("purchase event dropped", "state", ev.State)
			}
		}),
	)

	return ctrl, events
}

func printInstructions(out io.Writer, inv invoice.Invoice) {
	fmt.Fprintf(out, "Invoice %s: %d coins for %s USDT on %s\n",
		inv.ID, inv.CoinsRequested, inv.PriceTotal.StringFixed(2), inv.Network)

	if inv.IsRedirect() {
		fmt.Fprintf(out, "Pay here: %s\n", inv.PayoutAddressOrURL)
	} else {
		fmt.Fprintf(out, "Send exactly %s USDT to %s\n", inv.PriceTotal.StringFixed(2), inv.PayoutAddressOrURL)
	}

	if inv.Memo != "" {
		fmt.Fprintf(out, "Memo: %s\n", inv.Memo)
	}

	fmt.Fprintf(out, "Type \"check\" after paying, \"quit\" to stop. Resume later with: guessit resume --invoice %s --coins %d --network %s\n",
		inv.ID, inv.CoinsRequested, inv.Network)
}

// awaitPurchase reports controller events until the purchase settles or
// aborts. Interrupting the command abandons the purchase.
func awaitPurchase(ctx context.Context, ctrl *purchase.Controller, events <-chan purchase.Event, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	if st := ctrl.State(); !st.InProgress() {
		return reportDone(out, ctrl)
	}

	fmt.Fprintln(out, "Waiting for payment...")

	for {
		select {
		case <-ctx.Done():
			ctrl.Abandon()
			fmt.Fprintln(out, "Stopped checking. Nothing was charged to your coins.")

			return nil
		case line := <-lines:
			switch line {
			case "check":
				err := ctrl.CheckNow()
				if err != nil {
					fmt.Fprintln(out, err)
				}
			case "quit", "q":
				ctrl.Abandon()
			}
		case ev := <-events:
			if ev.Transient {
				fmt.Fprintf(out, "Still checking (%v)\n", ev.Err)
				continue
			}
			if !ev.State.InProgress() {
				return reportDone(out, ctrl)
			}
		}
	}
}

func reportDone(out io.Writer, ctrl *purchase.Controller) error {
	inv, _ := ctrl.Invoice()

	switch ctrl.State() {
	case purchase.StateSettled:
		fmt.Fprintf(out, "Payment confirmed: +%d coins\n", inv.CoinsRequested)
		return nil
	case purchase.StateAborted:
		err := ctrl.Err()
		fmt.Fprintf(out, "Purchase ended: %v\n", err)

		if errors.Is(err, purchase.ErrAbandoned) {
			return nil
		}

		return err
	default:
		return nil
	}
}
