// File: cmd/billingctl/main.go
// billingctl is the operator CLI: inspect accounts, cancel renewals,
// force charge sweeps, and replay provider events.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"telegram-subscription-billing/internal/domain"
)

// Exit codes: 0 ok, 1 invariant or runtime error, 2 not found,
// 3 provider error.
const (
	exitOK       = 0
	exitError    = 1
	exitNotFound = 2
	exitProvider = 3
)

var (
	cfgPath string
	devMode bool
)

var rootCmd = &cobra.Command{
	Use:           "billingctl",
	Short:         "Operate the subscription billing engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "developer mode (noop adapters allowed)")
	rootCmd.AddCommand(subCmd, methodsCmd, chargeCmd, webhookCmd)
	subCmd.AddCommand(subShowCmd, subCancelCmd)
	methodsCmd.AddCommand(methodsDeleteCmd)
	chargeCmd.AddCommand(chargeRunCmd, chargeOneCmd)
	webhookCmd.AddCommand(webhookShowCmd, webhookReplayCmd)
}

var subCmd = &cobra.Command{Use: "sub", Short: "Subscription operations"}
var methodsCmd = &cobra.Command{Use: "methods", Short: "Payment method operations"}
var chargeCmd = &cobra.Command{Use: "charge", Short: "Recurring charge operations"}
var webhookCmd = &cobra.Command{Use: "webhook", Short: "Provider event operations"}

var subShowCmd = &cobra.Command{
	Use:   "show <user_id>",
	Short: "Print a user's billing account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, app *engine) error {
			view, err := app.subUC.Account(ctx, userID)
			if err != nil {
				return err
			}
			if view.Subscription == nil && view.Trial == nil && len(view.Methods) == 0 {
				return fmt.Errorf("%w: user %d has no billing state", domain.ErrNotFound, userID)
			}
			printAccount(app, userID, view)
			return nil
		})
	},
}

var subCancelCmd = &cobra.Command{
	Use:   "cancel <user_id>",
	Short: "Turn off renewals for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, app *engine) error {
			n, err := app.subUC.Cancel(ctx, userID)
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("%w: no active subscription for user %d", domain.ErrNotFound, userID)
			}
			fmt.Printf("canceled %d subscription(s)\n", n)
			return nil
		})
	},
}

var methodsDeleteCmd = &cobra.Command{
	Use:   "delete <user_id>",
	Short: "Soft-delete all saved payment methods of a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, app *engine) error {
			n, err := app.subUC.DeletePaymentMethods(ctx, userID)
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d method(s)\n", n)
			return nil
		})
	},
}

var chargeRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one due-charge sweep now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, app *engine) error {
			stats, err := app.chargeUC.RunDueCharges(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("due=%d\n", stats.Due)
			for outcome, n := range stats.Outcomes {
				fmt.Printf("  %s=%d\n", outcome, n)
			}
			return nil
		})
	},
}

var chargeOneCmd = &cobra.Command{
	Use:   "one <subscription_id>",
	Short: "Force one subscription through the guarded charge path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, app *engine) error {
			outcome, err := app.chargeUC.ChargeSubscription(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(outcome)
			return nil
		})
	},
}

var webhookShowCmd = &cobra.Command{
	Use:   "show <payment_id>",
	Short: "Print the audit row of a provider payment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, app *engine) error {
			entry, err := app.paylog.FindByPaymentID(ctx, nil, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("payment:   %s\nuser:      %d\nevent:     %s\nstatus:    %s\namount:    %s %s\nphase:     %s\n",
				entry.PaymentID, entry.UserID, entry.Event, entry.Status,
				entry.Amount.Value, entry.Amount.Currency, entry.Phase)
			if entry.ProcessedAt != nil {
				fmt.Printf("processed: %s\n", entry.ProcessedAt.Format(time.RFC3339))
			} else {
				fmt.Println("processed: never")
			}
			fmt.Printf("raw: %s\n", entry.RawPayload)
			return nil
		})
	},
}

var webhookReplayCmd = &cobra.Command{
	Use:   "replay <payment_id>",
	Short: "Re-run a stored provider event through the reconciler",
	Long: `Re-run the raw payload of a stored provider event. Events already
marked processed stay idempotent and report "duplicate"; this recovers
events that crashed between the dedup claim and the ledger write.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, app *engine) error {
			entry, err := app.paylog.FindByPaymentID(ctx, nil, args[0])
			if err != nil {
				return err
			}
			if len(entry.RawPayload) == 0 {
				return fmt.Errorf("%w: no raw payload stored for payment %s", domain.ErrNotFound, entry.PaymentID)
			}
			// Drop the Redis claim so the replay is not shadowed by the
			// original delivery; the payment log still blocks re-applying
			// processed events.
			app.dedup.Release(ctx, "wh:"+entry.PaymentID+":"+entry.Status)
			res, err := app.webhookUC.HandleEvent(ctx, entry.RawPayload)
			if err != nil {
				return err
			}
			fmt.Printf("payment=%s status=%s outcome=%s\n", res.PaymentID, res.Status, res.Outcome)
			return nil
		})
	},
}

func parseUserID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, usageError{msg: fmt.Sprintf("invalid user id %q", raw)}
	}
	return id, nil
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
	os.Exit(exitOK)
}

// exitCode folds errors into the operator contract: missing entities
// are 2, provider-side refusals are 3, everything else (bad input,
// guard denials, runtime faults) is 1.
func exitCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return exitNotFound
	case errors.Is(err, domain.ErrProviderUnavailable),
		errors.Is(err, domain.ErrRecurringUnavailable):
		return exitProvider
	default:
		return exitError
	}
}

type usageError struct{ msg string }

func (u usageError) Error() string { return u.msg }
