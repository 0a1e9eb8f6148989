package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rickgao/auction-sync/internal/api"
)

// NewBidCommand creates the bid command.
func NewBidCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bid <auction-id> <price>",
		Short: "Place a bid",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			price, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || price <= 0 {
				return fmt.Errorf("price must be a positive integer, got %q", args[1])
			}

			a, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.logger.Sync()

			out := newPrinter(cmd.OutOrStdout(), rootOpts.Format)
			bid, err := a.backend.PlaceBid(contextOf(cmd), args[0], price)
			if err != nil {
				return userFacing(err)
			}
			out.bid(bid)
			return nil
		},
	}
}

// NewCancelCommand creates the cancel command.
func NewCancelCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <auction-id> <bid-id>",
		Short: "Cancel one of your bids",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.logger.Sync()

			if err := a.backend.CancelBid(contextOf(cmd), args[0], args[1]); err != nil {
				return userFacing(err)
			}
			newPrinter(cmd.OutOrStdout(), rootOpts.Format).message("bid %s canceled", args[1])
			return nil
		},
	}
}

// userFacing prefixes err with the message a user should see.
func userFacing(err error) error {
	return fmt.Errorf("%s (%w)", api.UserMessage(err), err)
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
