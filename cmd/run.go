package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/agent"
	"github.com/xkilldash9x/webpilot/internal/browser"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/llmclient"
	"github.com/xkilldash9x/webpilot/internal/observability"
	"github.com/xkilldash9x/webpilot/internal/store"
)

// errNeedsInput marks a run that stopped to ask the user a question. The
// question itself is printed before this is returned.
var errNeedsInput = errors.New("run needs user input")

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run \"task description\"",
		Short: "Runs a single browser task to completion",
		Long: `Runs a single task against a live browser. The task is plain language,
for example:

  webpilot run --url news.ycombinator.com "open the top story and summarize it"

The run ends when the task is reported done, the agent needs an answer from
you (exit code 3), or the iteration ceiling is reached.`,
		Args: cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind override flags to their viper keys so precedence works:
			// flag > env > config file > default.
			if err := viper.BindPFlag("agent.max_iterations", cmd.Flags().Lookup("max-iterations")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			return viper.BindPFlag("store.backend", cmd.Flags().Lookup("store"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			// Re-resolve the config now that the command's flags are bound.
			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			task := strings.Join(args, " ")
			startURL, _ := cmd.Flags().GetString("url")
			assumeYes, _ := cmd.Flags().GetBool("yes")

			oracle, err := llmclient.New(ctx, cfg.LLM, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize decision client: %w", err)
			}
			defer func() {
				if err := oracle.Close(); err != nil {
					logger.Warn("Error closing decision client", zap.Error(err))
				}
			}()

			repo, err := store.New(ctx, cfg.Store, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize run archive: %w", err)
			}
			if repo != nil {
				defer repo.Close()
			}

			manager := browser.NewManager(cfg, logger)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				if err := manager.Shutdown(shutdownCtx); err != nil {
					logger.Warn("Error during browser shutdown", zap.Error(err))
				}
			}()

			sess, err := manager.NewSession(ctx)
			if err != nil {
				return fmt.Errorf("failed to open browser session: %w", err)
			}

			if startURL != "" {
				if err := sess.Navigate(ctx, startURL); err != nil {
					return fmt.Errorf("failed to open start page %q: %w", startURL, err)
				}
			}

			var confirmer schemas.Confirmer
			if !assumeYes && cfg.Policy.ConfirmDestructive {
				confirmer = newPromptConfirmer(cmd.InOrStdin(), cmd.OutOrStdout())
			}

			runner, err := agent.NewRunner(cfg, sess, oracle, confirmer, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize agent: %w", err)
			}

			rec, runErr := runner.Run(ctx, task)

			// Archive best-effort, even for failed runs.
			if repo != nil && rec != nil {
				archiveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := repo.SaveRun(archiveCtx, rec); err != nil {
					logger.Warn("Failed to archive run", zap.String("run_id", rec.ID), zap.Error(err))
				}
				cancel()
			}

			if runErr != nil {
				return runErr
			}

			switch rec.Status {
			case schemas.RunCompleted:
				fmt.Fprintf(cmd.OutOrStdout(), "\nTask complete after %d iteration(s).\n%s\n", rec.Iterations, rec.Result)
				return nil
			case schemas.RunNeedsInput:
				fmt.Fprintf(cmd.OutOrStdout(), "\nThe agent needs more information to continue:\n  %s\n", rec.Question)
				fmt.Fprintln(cmd.OutOrStdout(), "Re-run with the answer folded into the task description.")
				return errNeedsInput
			default:
				return fmt.Errorf("run ended with status %s", rec.Status)
			}
		},
	}

	runCmd.Flags().StringP("url", "u", "", "Start page to open before the task begins.")
	runCmd.Flags().BoolP("yes", "y", false, "Skip confirmation prompts for destructive actions.")
	runCmd.Flags().Int("max-iterations", 0, "Maximum perceive/decide/execute cycles. (Overrides config/env)")
	runCmd.Flags().Bool("headless", true, "Run the browser without a visible window. (Overrides config/env)")
	runCmd.Flags().String("store", "", "Run archive backend: 'file' or 'postgres'. (Overrides config/env)")

	return runCmd
}
