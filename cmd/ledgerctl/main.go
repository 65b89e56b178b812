// Command ledgerctl is the operator tool for token balances.
//
//	ledgerctl balance   --user <id|email>
//	ledgerctl history   --user <id|email> [--limit 20] [--offset 0]
//	ledgerctl grant     --user <id|email> --amount N --note "..." [--actor ops]
//	ledgerctl refund    --user <id|email> --spend <transaction id> [--note "..."]
//	ledgerctl reconcile [--user <id|email>] [--async]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"github.com/aifitworld/aifitworld-api/internal/config"
	"github.com/aifitworld/aifitworld-api/internal/domain/ledger"
	"github.com/aifitworld/aifitworld-api/internal/domain/user"
	"github.com/aifitworld/aifitworld-api/internal/pkg/database"
	"github.com/aifitworld/aifitworld-api/internal/pkg/logger"
)

// Ledger is the slice of ledger.Service the commands use.
type Ledger interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) (*ledger.Page, error)
	Adjust(ctx context.Context, userID uuid.UUID, amount int64, actor, note string) (*ledger.CreditResult, error)
	IssueRefund(ctx context.Context, userID, spendID uuid.UUID, note string) (*ledger.CreditResult, error)
	Reconcile(ctx context.Context, userID uuid.UUID) (*ledger.ReconcileReport, error)
	ReconcileAll(ctx context.Context, batchSize int) (*ledger.ReconcileSummary, error)
}

type env struct {
	ledger Ledger
	users  user.Repository
	// notify asks running workers to reconcile; nil when unavailable.
	notify func(ctx context.Context, userID uuid.UUID) error
	batch  int
	out    io.Writer
}

var errUsage = errors.New("usage: ledgerctl <balance|history|grant|refund|reconcile> [flags]")

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{Level: "warn", Environment: cfg.Env, Service: "ledgerctl"}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	e := &env{
		users: user.NewRepository(db),
		batch: cfg.ReconcileBatchSize,
		out:   os.Stdout,
	}

	var opts []ledger.Option
	if rdb, err := database.NewRedis(cfg.RedisURL); err == nil {
		defer database.CloseRedis(rdb)
		opts = append(opts,
			ledger.WithCache(ledger.NewRedisBalanceCache(rdb, cfg.LedgerBalanceCacheTTL)),
			ledger.WithPublisher(ledger.NewRedisPublisher(rdb)),
		)
		e.notify = func(ctx context.Context, userID uuid.UUID) error {
			return ledger.RequestReconcile(ctx, rdb, userID)
		}
	} else {
		log.Warn().Err(err).Msg("Redis unavailable, cached balances will expire on their own")
	}
	e.ledger = ledger.NewService(ledger.NewPostgresStore(db, cfg.LedgerStoreTimeout), opts...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := e.run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "ledgerctl:", err)
		os.Exit(1)
	}
}

func (e *env) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, args := args[0], args[1:]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(e.out)
	who := fs.StringP("user", "u", "", "user id or email")

	switch cmd {
	case "balance":
		if err := fs.Parse(args); err != nil {
			return err
		}
		userID, err := e.resolve(ctx, *who)
		if err != nil {
			return err
		}
		balance, err := e.ledger.GetBalance(ctx, userID)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.out, "%s\t%d\n", userID, balance)
		return nil

	case "history":
		limit := fs.Int("limit", ledger.DefaultHistoryLimit, "page size")
		offset := fs.Int("offset", 0, "entries to skip")
		if err := fs.Parse(args); err != nil {
			return err
		}
		userID, err := e.resolve(ctx, *who)
		if err != nil {
			return err
		}
		page, err := e.ledger.ListTransactions(ctx, userID, *limit, *offset)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CREATED\tTYPE\tAMOUNT\tREASON\tID")
		for _, tx := range page.Items {
			fmt.Fprintf(tw, "%s\t%s\t%+d\t%s\t%s\n", tx.CreatedAt.Format(time.RFC3339), tx.Type, tx.Amount, tx.Reason, tx.ID)
		}
		if page.HasNext {
			fmt.Fprintf(tw, "…\t\t\t\tnext: --offset %d\n", page.Offset+page.Limit)
		}
		return tw.Flush()

	case "grant":
		amount := fs.Int64("amount", 0, "tokens to add, negative to remove")
		note := fs.String("note", "", "reason recorded on the entry")
		actor := fs.String("actor", currentActor(), "who made the change")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if strings.TrimSpace(*note) == "" {
			return errors.New("--note is required")
		}
		userID, err := e.resolve(ctx, *who)
		if err != nil {
			return err
		}
		res, err := e.ledger.Adjust(ctx, userID, *amount, *actor, *note)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.out, "adjusted %+d, balance %d (tx %s)\n", res.Amount, res.NewBalance, res.TransactionID)
		return nil

	case "refund":
		spend := fs.String("spend", "", "spend transaction id")
		note := fs.String("note", "manual refund", "reason recorded on the entry")
		if err := fs.Parse(args); err != nil {
			return err
		}
		spendID, err := uuid.Parse(*spend)
		if err != nil {
			return fmt.Errorf("--spend: %w", err)
		}
		userID, err := e.resolve(ctx, *who)
		if err != nil {
			return err
		}
		res, err := e.ledger.IssueRefund(ctx, userID, spendID, *note)
		if err != nil {
			return err
		}
		if !res.Credited {
			fmt.Fprintf(e.out, "already refunded (tx %s)\n", res.TransactionID)
			return nil
		}
		fmt.Fprintf(e.out, "refunded %d, balance %d (tx %s)\n", res.Amount, res.NewBalance, res.TransactionID)
		return nil

	case "reconcile":
		async := fs.Bool("async", false, "ask running workers instead of reconciling here")
		if err := fs.Parse(args); err != nil {
			return err
		}
		userID := uuid.Nil
		if *who != "" {
			var err error
			if userID, err = e.resolve(ctx, *who); err != nil {
				return err
			}
		}
		if *async {
			if e.notify == nil {
				return errors.New("--async needs Redis")
			}
			if err := e.notify(ctx, userID); err != nil {
				return err
			}
			fmt.Fprintln(e.out, "reconcile requested")
			return nil
		}
		if userID == uuid.Nil {
			sum, err := e.ledger.ReconcileAll(ctx, e.batch)
			if err != nil {
				return err
			}
			fmt.Fprintf(e.out, "checked %d, corrected %d\n", sum.Checked, sum.Corrected)
			return nil
		}
		rep, err := e.ledger.Reconcile(ctx, userID)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.out, "ledger %d, cached %d, drift %d, corrected %t\n", rep.Ledger, rep.Cached, rep.Drift, rep.Corrected)
		return nil
	}
	return errUsage
}

// resolve accepts a user id or an email address.
func (e *env) resolve(ctx context.Context, who string) (uuid.UUID, error) {
	who = strings.TrimSpace(who)
	if who == "" {
		return uuid.Nil, errors.New("--user is required")
	}
	if id, err := uuid.Parse(who); err == nil {
		return id, nil
	}
	u, err := e.users.GetByEmail(ctx, strings.ToLower(who))
	if err != nil {
		return uuid.Nil, err
	}
	if u == nil {
		return uuid.Nil, fmt.Errorf("no user with email %q", who)
	}
	return u.ID, nil
}

func currentActor() string {
	if u := os.Getenv("USER"); u != "" {
		return "ledgerctl:" + u
	}
	return "ledgerctl"
}
