package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"btstest/internal/config"
	"btstest/internal/harness"
	"btstest/internal/market"
	"btstest/internal/node"
	"btstest/internal/ports"
	"btstest/internal/report"
	"btstest/internal/rpc"
	"btstest/internal/version"
)

// ErrTestsFailed makes the process exit non-zero when a test failed or
// errored.
var ErrTestsFailed = errors.New("tests failed")

// addRunCommand adds the run command
func (app *App) addRunCommand(rootCmd *cobra.Command) {
	runCmd := &cobra.Command{
		Use:   "run TEST_DIR...",
		Short: "Run test directories",
		Long: `Run each test directory with fresh nodes. Global testenv files are loaded
first, then the directory's own testenv, which normally calls run_testdir().
Directories without a testenv are skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: app.runTests,
	}

	flags := runCmd.Flags()
	flags.StringSlice(config.KeyTestEnv, nil, "Global testenv loaded before each test (repeatable)")
	flags.String(config.KeyNodeBinary, "bitshares_client", "Node executable")
	flags.String(config.KeyGenesisConfig, "", "Genesis config passed to every node")
	flags.String(config.KeyOutputDir, "", "Directory for node data dirs")
	flags.String(config.KeyRPCUser, node.DefaultUser, "RPC user configured on nodes")
	flags.String(config.KeyRPCPassword, node.DefaultPassword, "RPC password configured on nodes")
	flags.Int(config.KeyPortMin, ports.DefaultMin, "Lowest port handed to nodes")
	flags.Int(config.KeyPortMax, ports.DefaultMax, "Highest port handed to nodes")
	flags.Bool(config.KeyHostAwarePorts, false, "Skip ports already bound on this host")
	flags.Bool(config.KeyStripANSI, false, "Strip terminal escape sequences from command output")
	flags.IntP(config.KeyParallel, "j", 1, "Number of test directories run at once")
	flags.Bool(config.KeyFailFast, false, "Stop scheduling tests after the first failure")
	flags.String(config.KeyReport, "", "Write a YAML report to this file")
	flags.String(config.KeyMetricsFile, "", "Write Prometheus metrics in textfile format to this file")
	flags.Duration(config.KeyStopTimeout, node.DefaultStopTimeout, "Grace period between SIGTERM and kill")
	flags.Duration(config.KeyRPCTimeout, 30*time.Second, "Timeout of a single RPC call")
	flags.Bool(config.KeyWatch, false, "Re-run a test directory whenever its files change")
	if err := app.v.BindPFlags(flags); err != nil {
		panic(fmt.Sprintf("binding run flags: %v", err))
	}

	rootCmd.AddCommand(runCmd)
}

func (app *App) runTests(cmd *cobra.Command, dirs []string) error {
	cfg, err := config.Load(app.v)
	if err != nil {
		return err
	}

	console := report.NewConsole(cmd.OutOrStdout(), cfg.Verbose)
	opts := harness.OptionsFromConfig(cfg)
	opts.OnResult = console.Result

	var metrics *report.Metrics
	if cfg.MetricsFile != "" {
		metrics = report.NewMetrics()
		opts.Metrics = metrics
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := harness.New(opts)
	if cfg.Watch {
		return h.Watch(ctx, dirs, harness.DefaultDebounce)
	}

	started := time.Now()
	results := h.Run(ctx, dirs)
	elapsed := time.Since(started)
	console.Summary(results, elapsed)

	if cfg.ReportPath != "" {
		doc := report.NewDocument(version.Version, started, elapsed, results)
		if err := report.WriteYAML(cfg.ReportPath, doc); err != nil {
			return err
		}
	}
	if metrics != nil {
		if err := metrics.WriteFile(cfg.MetricsFile); err != nil {
			return err
		}
	}

	if !report.Summarize(results).OK() {
		return ErrTestsFailed
	}
	return nil
}

// addHashMarketCommand adds the hash-market command
func (app *App) addHashMarketCommand(rootCmd *cobra.Command) {
	hashCmd := &cobra.Command{
		Use:   "hash-market CONFIG_JSON START_BLOCK END_BLOCK",
		Short: "Hash the market transactions of a block range",
		Long: `Connect to the node described by a config.json (rpc.httpd_endpoint and
credentials) and print SHA-256 digests of blockchain_list_market_transactions
for every 200-block window and for the whole range.`,
		Example: "  btstest hash-market ~/.BitShares/config.json 2112000 2122600",
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid start block %q: %w", args[1], err)
			}
			end, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid end block %q: %w", args[2], err)
			}
			return app.hashMarket(cmd.Context(), cmd, args[0], start, end)
		},
	}
	rootCmd.AddCommand(hashCmd)
}

func (app *App) hashMarket(ctx context.Context, cmd *cobra.Command, configPath string, start, end int) error {
	rpcCfg, err := market.LoadConfig(configPath)
	if err != nil {
		return err
	}
	rpcCfg.Timeout = app.v.GetDuration(config.KeyRPCTimeout)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return market.NewHasher(rpc.New(rpcCfg)).Report(ctx, cmd.OutOrStdout(), start, end)
}
