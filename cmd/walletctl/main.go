// Package main provides walletctl, a CLI that runs the aggregator in-process
// against the configured stores.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/portfolio-aggregator/internal/app"
	"github.com/portfolio-aggregator/internal/config"
	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withApp loads configuration, builds the graph and fetches prices once
// before running fn.
func withApp(cmd *cobra.Command, fetchPrices bool, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	app.InitLogging(cfg)

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if fetchPrices {
		if err := a.WaitForPrices(ctx, 30*time.Second); err != nil {
			logging.Component("walletctl").WithError(err).Warn("price refresh failed")
		}
	}
	return fn(ctx, a)
}

func main() {
	var (
		label   string
		evmAddr string
		btcAddr []string
		days    int
	)

	rootCmd := &cobra.Command{
		Use:           "walletctl",
		Short:         "Inspect and refresh wallet portfolios",
		Long:          `walletctl runs the portfolio aggregator in-process: register wallets, refresh balances and read totals.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, false, func(ctx context.Context, a *app.App) error {
				w, err := a.Portfolio.CreateWallet(ctx, service.CreateWalletInput{
					Label:        label,
					EVMAddress:   evmAddr,
					BTCAddresses: btcAddr,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), w)
			})
		},
	}
	addCmd.Flags().StringVarP(&label, "label", "l", "", "Wallet label")
	addCmd.Flags().StringVarP(&evmAddr, "evm", "e", "", "EVM address shared by every configured chain")
	addCmd.Flags().StringSliceVarP(&btcAddr, "btc", "b", nil, "Bitcoin address (repeatable)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered wallets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, false, func(ctx context.Context, a *app.App) error {
				wallets, err := a.Portfolio.ListWallets(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), wallets)
			})
		},
	}

	refreshCmd := &cobra.Command{
		Use:   "refresh <wallet-id>",
		Short: "Fetch every balance of a wallet and print the totals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, true, func(ctx context.Context, a *app.App) error {
				res, err := a.Portfolio.RefreshPortfolio(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}

	allocationCmd := &cobra.Command{
		Use:   "allocation <wallet-id>",
		Short: "Print the asset allocation from the last refresh",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, false, func(ctx context.Context, a *app.App) error {
				alloc, err := a.Portfolio.GetAssetAllocation(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), alloc)
			})
		},
	}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Print daily portfolio totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, false, func(ctx context.Context, a *app.App) error {
				snaps, err := a.Portfolio.GetPortfolioHistory(ctx, days)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), snaps)
			})
		},
	}
	historyCmd.Flags().IntVarP(&days, "days", "d", 0, "Number of days (default from HISTORY_DAYS)")

	dashboardCmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Print the headline totals of the last refresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, false, func(ctx context.Context, a *app.App) error {
				view, err := a.Portfolio.GetDashboardStats(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Total:  %s (%s)\n24h:    %s (%s)\n",
					view.TotalUSDDisplay, view.TotalPrimaryDisplay,
					view.ChangeAmountDisplay, view.ChangePercentDisplay)
				return err
			})
		},
	}

	pricesCmd := &cobra.Command{
		Use:   "prices",
		Short: "Fetch and print current USD prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, true, func(ctx context.Context, a *app.App) error {
				return printJSON(cmd.OutOrStdout(), a.Prices.Entries())
			})
		},
	}

	rootCmd.AddCommand(addCmd, listCmd, refreshCmd, allocationCmd, historyCmd, dashboardCmd, pricesCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
