package auditcheck

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/device-presence-service/internal/config"
	"github.com/sandeepkv93/device-presence-service/internal/di"
	"github.com/sandeepkv93/device-presence-service/internal/service"
	"github.com/sandeepkv93/device-presence-service/internal/tools/common"
	"github.com/sandeepkv93/device-presence-service/internal/tools/ui"
)

var errChainBroken = errors.New("audit chain broken")

type options struct {
	envFile string
	ci      bool
	timeout time.Duration
}

type chainVerifier interface {
	Verify(ctx context.Context, progress func(checked uint64)) (service.ChainReport, error)
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{Use: "auditcheck", Short: "Inspect the tamper-evident audit trail"}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "optional KEY=VALUE file loaded before config")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Minute, "overall verification timeout")
	cmd.AddCommand(newVerifyCommand(opts))
	return cmd
}

func newVerifyCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Recompute every hash link and report the first break",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := common.LoadEnvFile(opts.envFile); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			core, cleanup, err := di.InitializeCore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			details, err := run(opts, "auditcheck verify", func(ctx context.Context, progress ui.Progress) ([]string, error) {
				return verifyChain(ctx, core.Audit, progress)
			})
			if opts.ci {
				common.PrintCIResult(err == nil, "auditcheck verify", details, err)
			}
			if errors.Is(err, errChainBroken) {
				os.Exit(4)
			}
			return err
		},
	}
}

func run(opts *options, title string, fn func(context.Context, ui.Progress) ([]string, error)) ([]string, error) {
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
		defer cancel()
		return fn(ctx, func(string) {})
	}
	return ui.Run(title, fn)
}

func verifyChain(ctx context.Context, v chainVerifier, progress ui.Progress) ([]string, error) {
	report, err := v.Verify(ctx, func(checked uint64) {
		progress(fmt.Sprintf("checked %d entries", checked))
	})
	if err != nil {
		return nil, fmt.Errorf("verify audit chain: %w", err)
	}
	details := []string{fmt.Sprintf("checked=%d head=%d", report.Checked, report.Head)}
	if !report.OK {
		details = append(details, fmt.Sprintf("broken_at=%d problem=%q", report.BrokenAt, report.Problem))
		return details, fmt.Errorf("%w at sequence %d: %s", errChainBroken, report.BrokenAt, report.Problem)
	}
	return details, nil
}
