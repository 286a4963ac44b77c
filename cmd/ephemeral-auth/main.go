package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/evogenom/ephemeral-auth/internal/app"
	"github.com/evogenom/ephemeral-auth/internal/config"
	"github.com/evogenom/ephemeral-auth/internal/janitor"
	"github.com/evogenom/ephemeral-auth/internal/logger"
	"github.com/evogenom/ephemeral-auth/internal/store"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const startStopTimeout = 30 * time.Second

func main() {
	Execute()
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "ephemeral-auth",
	Short: "Single-use ephemeral token service",
	Long: `ephemeral-auth exchanges identity provider access tokens for short-lived,
single-use tokens that clients present once, for example when opening a
WebSocket connection.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	// Place version check in PreRun to ensure flags are parsed first
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			pterm.Info.Println(config.GetVersionInfo())
			os.Exit(0)
		}
	}

	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func init() {
	config.InitFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().BoolP("version", "v", false, "Show version information")

	rootCmd.AddCommand(serveCmd, pruneCmd, configCmd)
	// A bare invocation serves.
	rootCmd.RunE = serveCmd.RunE
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired tokens from the store and exit",
	RunE:  runPrune,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE:  runConfig,
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.InitLogger(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	defer func() {
		if r := recover(); r != nil {
			pterm.Error.Printf("\nCaught panic: %v\n", r)
			pterm.Error.Printf("%s\n", debug.Stack())
			os.Exit(2)
		}
	}()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.Info("Starting ephemeral-auth",
		zap.String("version", config.Version()),
		zap.String("address", cfg.Server.Addr()),
		zap.String("driver", string(cfg.Database.Driver)),
		zap.Duration("token_ttl", cfg.Tokens.TTL),
	)

	application := fx.New(app.Options(cfg))

	startCtx, cancel := context.WithTimeout(context.Background(), startStopTimeout)
	defer cancel()
	if err := application.Start(startCtx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	sig := <-application.Wait()
	logger.Info("Shutdown requested", zap.String("signal", fmt.Sprint(sig.Signal)), zap.Int("exit_code", sig.ExitCode))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), startStopTimeout)
	defer stopCancel()
	if err := application.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop cleanly: %w", err)
	}
	if sig.ExitCode != 0 {
		return fmt.Errorf("server exited with code %d", sig.ExitCode)
	}
	return nil
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	st, err := store.New(&cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := janitor.New(st, 0).Sweep(ctx)
	if err != nil {
		return fmt.Errorf("prune failed: %w", err)
	}
	remaining, err := st.Count(ctx)
	if err != nil {
		return err
	}

	pterm.Success.Printfln("Removed %s expired tokens, %s remaining.",
		pterm.LightGreen(n),
		pterm.White(remaining))
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	out, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return err
	}
	fmt.Print(string(out))

	if err := cfg.Validate(); err != nil {
		pterm.Warning.Println(err)
	}
	return nil
}
