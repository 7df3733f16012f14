package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tapgate/tapgate/internal/core/ports"
	"github.com/tapgate/tapgate/internal/infrastructure/db"
	"github.com/urfave/cli/v2"
)

var (
	walletFlag = &cli.StringFlag{
		Name:  "wallet",
		Usage: "filter by wallet id",
	}
	userFlag = &cli.StringFlag{
		Name:  "user",
		Usage: "filter by user id",
	}
	assetFlag = &cli.StringFlag{
		Name:  "asset",
		Usage: "filter by asset id",
	}
	hashFlag = &cli.StringFlag{
		Name:  "hash",
		Usage: "lookup by payment hash",
	}
	limitFlag = &cli.IntFlag{
		Name:  "limit",
		Usage: "maximum number of entries to print",
	}
)

var balancesCommand = &cli.Command{
	Name:   "balances",
	Usage:  "List asset balances held by a wallet",
	Action: balancesAction,
	Flags:  []cli.Flag{walletFlag},
}

var invoicesCommand = &cli.Command{
	Name:   "invoices",
	Usage:  "List invoices for a user or look one up by payment hash",
	Action: invoicesAction,
	Flags:  []cli.Flag{userFlag, hashFlag},
}

var paymentsCommand = &cli.Command{
	Name:   "payments",
	Usage:  "List outbound payments for a user",
	Action: paymentsAction,
	Flags:  []cli.Flag{userFlag, hashFlag},
}

var transactionsCommand = &cli.Command{
	Name:   "transactions",
	Usage:  "List ledger journal entries",
	Action: transactionsAction,
	Flags:  []cli.Flag{walletFlag, assetFlag, limitFlag},
}

func balancesAction(ctx *cli.Context) error {
	wallet := ctx.String("wallet")
	if len(wallet) <= 0 {
		return fmt.Errorf("missing flag, please provide --wallet")
	}

	repo, cleanup, err := openStore()
	if err != nil {
		return err
	}
	defer cleanup()

	balances, err := repo.Balances().GetBalancesWithWallet(context.Background(), wallet)
	if err != nil {
		return err
	}
	return printJSON(balances)
}

func invoicesAction(ctx *cli.Context) error {
	user := ctx.String("user")
	hash := ctx.String("hash")
	if len(user) <= 0 && len(hash) <= 0 {
		return fmt.Errorf("missing flag, please provide either --user or --hash")
	}

	repo, cleanup, err := openStore()
	if err != nil {
		return err
	}
	defer cleanup()

	if len(hash) > 0 {
		invoice, err := repo.Invoices().GetInvoiceWithPaymentHash(context.Background(), hash)
		if err != nil {
			return err
		}
		return printJSON(invoice)
	}

	invoices, err := repo.Invoices().GetInvoicesWithUser(context.Background(), user)
	if err != nil {
		return err
	}
	return printJSON(invoices)
}

func paymentsAction(ctx *cli.Context) error {
	user := ctx.String("user")
	hash := ctx.String("hash")
	if len(user) <= 0 && len(hash) <= 0 {
		return fmt.Errorf("missing flag, please provide either --user or --hash")
	}

	repo, cleanup, err := openStore()
	if err != nil {
		return err
	}
	defer cleanup()

	if len(hash) > 0 {
		payment, err := repo.Payments().GetPaymentWithPaymentHash(context.Background(), hash)
		if err != nil {
			return err
		}
		return printJSON(payment)
	}

	payments, err := repo.Payments().GetPaymentsWithUser(context.Background(), user)
	if err != nil {
		return err
	}
	return printJSON(payments)
}

func transactionsAction(ctx *cli.Context) error {
	repo, cleanup, err := openStore()
	if err != nil {
		return err
	}
	defer cleanup()

	txs, err := repo.Balances().GetTransactions(
		context.Background(), ctx.String("wallet"), ctx.String("asset"), ctx.Int("limit"),
	)
	if err != nil {
		return err
	}
	return printJSON(txs)
}

// openStore opens the daemon's datadir. The CLI is an offline inspection
// tool, it must not run against a live tapgated holding the store lock.
func openStore() (ports.RepoManager, func(), error) {
	repo, err := db.NewService(db.ServiceConfig{
		DataStoreType:   "badger",
		DataStoreConfig: []interface{}{datadir, nil},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store at %s: %s", datadir, err)
	}
	return repo, repo.Close, nil
}

func printJSON(resp interface{}) error {
	jsonBytes, err := json.MarshalIndent(resp, "", "\t")
	if err != nil {
		return fmt.Errorf("unable to encode response: %s", err)
	}
	fmt.Println(string(jsonBytes))
	return nil
}
