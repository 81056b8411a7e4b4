package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shuttlemath/guessit/internal/config"
	"github.com/shuttlemath/guessit/internal/infra/logging"
	"github.com/shuttlemath/guessit/internal/infra/pgutils"
	"github.com/shuttlemath/guessit/internal/repos/coins"
	"github.com/shuttlemath/guessit/internal/repos/coins/leveldb"
	"github.com/shuttlemath/guessit/internal/repos/coins/memory"
	"github.com/shuttlemath/guessit/internal/repos/coins/postgres"
	"github.com/shuttlemath/guessit/internal/services/ledger"
	"github.com/shuttlemath/guessit/pkg/shutdownqueue"
)

type shellConfig struct {
	LogLevel        slog.Level    `env:"APP_LOG_LEVEL" envDefault:"INFO"`
	LogFile         string        `env:"GUESSIT_LOG_FILE" envDefault:"guessit.log"`
	DataDir         string        `env:"GUESSIT_DATA_DIR" envDefault:"."`
	Store           string        `env:"GUESSIT_STORE" envDefault:"leveldb"`
	StoreKey        string        `env:"GUESSIT_STORE_KEY" envDefault:"guessit.coins"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`

	Postgres config.PostgresConfig
	Gateway  config.GatewayConfig
	Purchase config.PurchaseConfig
}

// shell owns what every subcommand shares: config, the coin ledger and the
// shutdown queue that releases them.
type shell struct {
	in  io.Reader
	out io.Writer

	cfg    shellConfig
	queue  *shutdownqueue.Queue
	ledger *ledger.Ledger
}

func newShell(in io.Reader, out io.Writer) *shell {
	return &shell{in: in, out: out, queue: shutdownqueue.New()}
}

func newRootCmd(sh *shell) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "guessit",
		Short:         "Guess the number between 1 and 100 with coins on the line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return sh.open(cmd.Context())
		},
	}

	cmd.AddCommand(
		balanceCmd(sh),
		playCmd(sh),
		buyCmd(sh),
		resumeCmd(sh),
	)

	return cmd
}

func (sh *shell) open(ctx context.Context) error {
	err := config.Load(&sh.cfg)
	if err != nil {
		return fmt.Errorf("init config: %w", err)
	}

	logFile := logging.SetupFile(logging.FileOptions{Path: sh.cfg.LogFile}, sh.cfg.LogLevel)
	sh.queue.Add("log file", shutdownqueue.Closer(logFile.Close))

	store, err := openStore(ctx, sh.cfg, sh.queue)
	if err != nil {
		return err
	}

	l, err := ledger.Open(ctx, store, ledger.DefaultBalance, ledger.WithLogger(slog.Default()))
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	sh.ledger = l
	sh.queue.Add("ledger", func(context.Context) error {
		l.Close()
		return nil
	})

	return nil
}

func (sh *shell) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), sh.shutdownTimeout())
	defer cancel()

	return sh.queue.Shutdown(ctx)
}

func (sh *shell) shutdownTimeout() time.Duration {
	if sh.cfg.ShutdownTimeout <= 0 {
		return 5 * time.Second
	}

	return sh.cfg.ShutdownTimeout
}

// openStore picks the coin store backend named by cfg.Store.
func openStore(ctx context.Context, cfg shellConfig, q *shutdownqueue.Queue) (coins.Coins, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Store)) {
	case "leveldb", "":
		s, err := leveldb.Open(cfg.DataDir, "guessit", cfg.StoreKey)
		if err != nil {
			return nil, fmt.Errorf("open coin store: %w", err)
		}
		q.Add("leveldb coin store", shutdownqueue.Closer(s.Close))

		return s, nil
	case "postgres":
		db, err := pgutils.OpenDB(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("open coin store: %w", err)
		}
		q.Add("postgres", shutdownqueue.Closer(db.Close))

		return postgres.New(db, cfg.StoreKey), nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown GUESSIT_STORE %q (want leveldb, postgres or memory)", cfg.Store)
	}
}

func balanceCmd(sh *shell) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the coin balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := sh.ledger.Balance(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(sh.out, "%d coins\n", b)

			return nil
		},
	}
}
