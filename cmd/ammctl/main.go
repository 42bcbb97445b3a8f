// Command ammctl drives the market maker from a terminal: it migrates the
// database, opens markets, funds accounts, places trades and settles
// resolved markets.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"socialpredict-amm/config"
	"socialpredict-amm/database"
	"socialpredict-amm/handlers/markets"
	"socialpredict-amm/handlers/math/probabilities/lmsr"
	"socialpredict-amm/handlers/resolution"
	"socialpredict-amm/handlers/trades"
	"socialpredict-amm/ledger"
	"socialpredict-amm/logger"
	"socialpredict-amm/migration"
	_ "socialpredict-amm/migration/migrations"
	"socialpredict-amm/models"
)

const usage = `usage: ammctl [-config file] <command> [flags]

commands:
  migrate     apply pending schema migrations
  open        open an LMSR market
  account     create an account
  deposit     credit an account
  state       show a market's prices
  simulate    preview a buy
  buy         buy shares with a budget
  sell        sell shares back to the market
  resolve     resolve a market and pay out winners
  payout      finish an interrupted payout
  reconcile   check balances against the ledger
`

type app struct {
	cfg *config.Config
	db  *gorm.DB
	log *zap.Logger
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}

	a := &app{cfg: cfg, db: db, log: log}
	if err := a.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		log.Error("command failed", zap.String("command", flag.Arg(0)), zap.Error(err))
		os.Exit(1)
	}
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "migrate":
		return a.migrate(ctx)
	case "open":
		return a.open(ctx, args)
	case "account":
		return a.account(ctx, args)
	case "deposit":
		return a.deposit(ctx, args)
	case "state":
		return a.state(ctx, args)
	case "simulate":
		return a.simulate(ctx, args)
	case "buy":
		return a.buy(ctx, args)
	case "sell":
		return a.sell(ctx, args)
	case "resolve":
		return a.resolve(ctx, args)
	case "payout":
		return a.payout(ctx, args)
	case "reconcile":
		return a.reconcile(ctx, args)
	}
	fmt.Fprint(os.Stderr, usage)
	return errors.Errorf("unknown command %q", cmd)
}

func (a *app) migrate(ctx context.Context) error {
	ran, err := migration.Run(ctx, a.db, a.log)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"applied": ran})
}

func (a *app) open(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("open", flag.ExitOnError)
	title := fs.String("title", "", "question title")
	description := fs.String("description", "", "resolution criteria")
	closeIn := fs.Duration("close-in", 7*24*time.Hour, "time until trading stops")
	liquidity := fs.String("liquidity", "", "liquidity parameter b in credits (default from config)")
	fs.Parse(args)

	b := a.cfg.Market.DefaultLiquidityMicros
	if *liquidity != "" {
		var err error
		if b, err = models.ParseMicros(*liquidity); err != nil {
			return errors.Wrap(err, "liquidity")
		}
	}

	m, err := markets.Open(ctx, a.db, markets.OpenRequest{
		QuestionTitle:   *title,
		Description:     *description,
		CloseAt:         time.Now().Add(*closeIn),
		LiquidityMicros: b,
	})
	if err != nil {
		return err
	}
	a.log.Info("market opened", zap.Int64("market_id", m.ID), zap.String("liquidity", models.FormatMicros(b)))
	return printJSON(m)
}

func (a *app) account(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("account", flag.ExitOnError)
	username := fs.String("username", "", "account name")
	fs.Parse(args)

	acct, err := ledger.OpenAccount(ctx, a.db, *username)
	if err != nil {
		return err
	}
	return printJSON(acct)
}

func (a *app) deposit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("deposit", flag.ExitOnError)
	accountID := fs.Int64("account", 0, "account id")
	amount := fs.String("amount", "", "credits to deposit")
	key := fs.String("key", uuid.NewString(), "idempotency key")
	fs.Parse(args)

	micros, err := models.ParseMicros(*amount)
	if err != nil {
		return errors.Wrap(err, "amount")
	}
	entry, replayed, err := ledger.Deposit(ctx, a.db, *accountID, micros, *key)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"entry": entry, "replayed": replayed})
}

func (a *app) state(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	marketID := fs.Int64("market", 0, "market id")
	fs.Parse(args)

	view, err := markets.State(ctx, a.db, *marketID)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, view)
	return printJSON(view)
}

func (a *app) simulate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	marketID := fs.Int64("market", 0, "market id")
	outcome := fs.String("outcome", "YES", "YES or NO")
	amount := fs.String("amount", "", "credits to spend")
	fs.Parse(args)

	o, err := lmsr.ParseOutcome(*outcome)
	if err != nil {
		return err
	}
	micros, err := models.ParseMicros(*amount)
	if err != nil {
		return errors.Wrap(err, "amount")
	}
	sim, err := markets.Simulate(ctx, a.db, *marketID, o, micros)
	if err != nil {
		return err
	}
	return printJSON(sim)
}

func (a *app) buy(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("buy", flag.ExitOnError)
	accountID := fs.Int64("account", 0, "account id")
	marketID := fs.Int64("market", 0, "market id")
	outcome := fs.String("outcome", "YES", "YES or NO")
	amount := fs.String("amount", "", "most credits to spend")
	minShares := fs.String("min-shares", "0", "fail if fewer shares would be bought")
	key := fs.String("key", uuid.NewString(), "idempotency key")
	fs.Parse(args)

	micros, err := models.ParseMicros(*amount)
	if err != nil {
		return errors.Wrap(err, "amount")
	}
	minMicros, err := models.ParseMicros(*minShares)
	if err != nil {
		return errors.Wrap(err, "min-shares")
	}

	res, err := trades.NewService(a.db, a.log).ExecuteBuy(ctx, trades.BuyRequest{
		AccountID:      *accountID,
		MarketID:       *marketID,
		Outcome:        *outcome,
		AmountMicros:   micros,
		MinShareMicros: minMicros,
		IdempotencyKey: *key,
	})
	if err != nil {
		return err
	}
	return printJSON(res)
}

func (a *app) sell(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sell", flag.ExitOnError)
	accountID := fs.Int64("account", 0, "account id")
	marketID := fs.Int64("market", 0, "market id")
	outcome := fs.String("outcome", "YES", "YES or NO")
	shares := fs.String("shares", "", "shares to sell")
	minProceeds := fs.String("min-proceeds", "0", "fail if the sale would pay less")
	key := fs.String("key", uuid.NewString(), "idempotency key")
	fs.Parse(args)

	micros, err := models.ParseMicros(*shares)
	if err != nil {
		return errors.Wrap(err, "shares")
	}
	minMicros, err := models.ParseMicros(*minProceeds)
	if err != nil {
		return errors.Wrap(err, "min-proceeds")
	}

	res, err := trades.NewService(a.db, a.log).ExecuteSell(ctx, trades.SellRequest{
		AccountID:         *accountID,
		MarketID:          *marketID,
		Outcome:           *outcome,
		ShareMicros:       micros,
		MinProceedsMicros: minMicros,
		IdempotencyKey:    *key,
	})
	if err != nil {
		return err
	}
	return printJSON(res)
}

func (a *app) runner() *resolution.Runner {
	return resolution.NewRunner(resolution.NewService(a.db, a.log), a.cfg.Payout, a.log)
}

func (a *app) resolve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	marketID := fs.Int64("market", 0, "market id")
	outcome := fs.String("outcome", "", "winning outcome, YES or NO")
	fs.Parse(args)

	summary, err := a.runner().ResolveAndPayout(ctx, *marketID, *outcome)
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func (a *app) payout(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("payout", flag.ExitOnError)
	marketID := fs.Int64("market", 0, "market id")
	fs.Parse(args)

	view, err := markets.State(ctx, a.db, *marketID)
	if err != nil {
		return err
	}
	if !view.Market.IsResolved {
		return errors.Wrapf(resolution.ErrMarketNotResolved, "market %d", *marketID)
	}
	summary, err := a.runner().Payout(ctx, *marketID, view.Market.ResolutionResult)
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func (a *app) reconcile(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	accountID := fs.Int64("account", 0, "account id (all accounts when 0)")
	fs.Parse(args)

	if *accountID != 0 {
		report, err := ledger.Reconcile(ctx, a.db, *accountID)
		if err != nil {
			return err
		}
		return printJSON(report)
	}

	bad, err := ledger.ReconcileAll(ctx, a.db)
	if err != nil {
		return err
	}
	if err := printJSON(map[string]any{"unbalanced": bad}); err != nil {
		return err
	}
	if len(bad) > 0 {
		return errors.Errorf("%d accounts do not balance", len(bad))
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
