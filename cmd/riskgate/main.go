// ABOUTME: Entry point for the RiskGate residual risk scoring and engagement validation service.
// ABOUTME: Provides the serve command and one-shot commands for validation, lifecycle, imports and migrations.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jfeddern/RiskGate/internal/engine"
	"github.com/jfeddern/RiskGate/internal/providers"
	"github.com/jfeddern/RiskGate/internal/providers/local"
	"github.com/jfeddern/RiskGate/internal/providers/mock"
	"github.com/jfeddern/RiskGate/internal/providers/postgres"
	"github.com/jfeddern/RiskGate/internal/types"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// errUntolerable makes `validate --fail-on-untolerable` usable as a pipeline gate
var errUntolerable = errors.New("engagement has untolerable findings")

func main() {
	if err := newRootCmd(os.Getenv).Execute(); err != nil {
		if errors.Is(err, errUntolerable) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type cli struct {
	config *engine.Config
	getenv func(string) string
	logger *logrus.Logger
}

func newRootCmd(getenv func(string) string) *cobra.Command {
	c := &cli{config: defaultConfig(), getenv: getenv}

	root := &cobra.Command{
		Use:          "riskgate",
		Short:        "Residual risk scoring and engagement validation",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c.logger = newLogger(cmd.ErrOrStderr(), getenv("LOG_LEVEL"))
			applyEnv(c.config, getenv, c.logger)
			return validateConfig(c.config)
		},
	}
	bindFlags(root, c.config)

	root.AddCommand(
		c.newServeCmd(),
		c.newValidateCmd(),
		c.newCreateCmd(),
		c.newCloseCmd(),
		c.newReopenCmd(),
		c.newImportECRCmd(),
		c.newMigrateCmd(),
		c.newSeedCmd(),
	)
	return root
}

func (c *cli) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the validation API and Prometheus metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			// Handle shutdown gracefully
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			go func() {
				select {
				case <-sigChan:
					c.logger.Info("Received shutdown signal")
					cancel()
				case <-ctx.Done():
				}
			}()

			app, err := NewApp(ctx, c.config, c.logger)
			if err != nil {
				return fmt.Errorf("failed to create app: %w", err)
			}
			return app.Start(ctx)
		},
	}
}

// withRuntime runs fn against a freshly wired engine and persists file-backed changes afterwards
func (c *cli) withRuntime(ctx context.Context, fn func(*providers.Runtime) error) error {
	runtime, err := providers.CreateRuntime(ctx, c.config, nil, c.logger)
	if err != nil {
		return err
	}
	defer runtime.Close()

	if err := fn(runtime); err != nil {
		return err
	}
	return runtime.Backend.Persist()
}

func (c *cli) newValidateCmd() *cobra.Command {
	var engagementID int64
	var failOnUntolerable bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate an engagement against the default residual risk policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var result *types.ValidationResult
			err := c.withRuntime(cmd.Context(), func(rt *providers.Runtime) error {
				var err error
				result, err = rt.Engine.Validate(cmd.Context(), engagementID)
				return err
			})
			if err != nil {
				return err
			}

			if err := writeOutput(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if failOnUntolerable && !result.Valid {
				return fmt.Errorf("engagement %d: %w", engagementID, errUntolerable)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&engagementID, "engagement", 0, "Engagement ID")
	cmd.Flags().BoolVar(&failOnUntolerable, "fail-on-untolerable", false, "Exit with status 2 when the engagement is not valid")
	_ = cmd.MarkFlagRequired("engagement")
	return cmd
}

func (c *cli) newCreateCmd() *cobra.Command {
	var productID int64
	var name, start, end, commit string
	var link types.TrackerLink

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an engagement, named after its start date unless a name is given",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engagement, err := buildEngagement(productID, name, start, end, commit, link)
			if err != nil {
				return err
			}

			err = c.withRuntime(cmd.Context(), func(rt *providers.Runtime) error {
				return rt.Engine.CreateEngagement(cmd.Context(), engagement)
			})
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), engagement)
		},
	}
	cmd.Flags().Int64Var(&productID, "product", 0, "Product ID")
	cmd.Flags().StringVar(&name, "name", "", "Engagement name (defaults to the start date)")
	cmd.Flags().StringVar(&start, "start", "", "Target start date (YYYY-MM-DD, defaults to today)")
	cmd.Flags().StringVar(&end, "end", "", "Target end date (YYYY-MM-DD, defaults to the start date)")
	cmd.Flags().StringVar(&commit, "commit", "", "Commit hash under test")
	cmd.Flags().StringVar(&link.Provider, "tracker-provider", "", "Issue tracker of the linked epic: github or gitlab")
	cmd.Flags().StringVar(&link.Project, "tracker-project", "", "Project of the linked epic")
	cmd.Flags().IntVar(&link.Issue, "tracker-issue", 0, "Issue number of the linked epic")
	_ = cmd.MarkFlagRequired("product")
	cmd.MarkFlagsRequiredTogether("tracker-provider", "tracker-project", "tracker-issue")
	return cmd
}

const dateLayout = "2006-01-02"

func buildEngagement(productID int64, name, start, end, commit string, link types.TrackerLink) (*types.Engagement, error) {
	targetStart := time.Now().UTC().Truncate(24 * time.Hour)
	if start != "" {
		parsed, err := time.Parse(dateLayout, start)
		if err != nil {
			return nil, fmt.Errorf("invalid start date %q: %w", start, err)
		}
		targetStart = parsed
	}

	targetEnd := targetStart
	if end != "" {
		parsed, err := time.Parse(dateLayout, end)
		if err != nil {
			return nil, fmt.Errorf("invalid end date %q: %w", end, err)
		}
		if parsed.Before(targetStart) {
			return nil, fmt.Errorf("end date %s is before start date %s", end, targetStart.Format(dateLayout))
		}
		targetEnd = parsed
	}

	engagement := &types.Engagement{
		ProductID:   productID,
		Name:        name,
		TargetStart: targetStart,
		TargetEnd:   targetEnd,
		Active:      true,
		CommitHash:  commit,
	}
	if link.Provider != "" {
		engagement.TrackerLink = &link
	}
	return engagement, nil
}

func (c *cli) newCloseCmd() *cobra.Command {
	return c.newLifecycleCmd("close", "Close an engagement and its linked tracker epic",
		func(ctx context.Context, e *engine.Engine, id int64) (*types.Engagement, error) {
			return e.CloseEngagement(ctx, id)
		})
}

func (c *cli) newReopenCmd() *cobra.Command {
	return c.newLifecycleCmd("reopen", "Reopen a closed engagement",
		func(ctx context.Context, e *engine.Engine, id int64) (*types.Engagement, error) {
			return e.ReopenEngagement(ctx, id)
		})
}

func (c *cli) newLifecycleCmd(use, short string, action func(context.Context, *engine.Engine, int64) (*types.Engagement, error)) *cobra.Command {
	var engagementID int64

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var engagement *types.Engagement
			err := c.withRuntime(cmd.Context(), func(rt *providers.Runtime) error {
				var err error
				engagement, err = action(cmd.Context(), rt.Engine, engagementID)
				return err
			})
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), engagement)
		},
	}
	cmd.Flags().Int64Var(&engagementID, "engagement", 0, "Engagement ID")
	_ = cmd.MarkFlagRequired("engagement")
	return cmd
}

func (c *cli) newImportECRCmd() *cobra.Command {
	var engagementID int64
	var image string

	cmd := &cobra.Command{
		Use:   "import-ecr",
		Short: "Import ECR image scan findings into an engagement as a new test",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			importer, err := providers.CreateImporter(cmd.Context(), c.config, c.logger)
			if err != nil {
				return err
			}

			var test *types.Test
			err = c.withRuntime(cmd.Context(), func(rt *providers.Runtime) error {
				var err error
				test, err = rt.Engine.ImportFindings(cmd.Context(), rt.Backend.Store, engagementID, importer, image)
				return err
			})
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), test)
		},
	}
	cmd.Flags().Int64Var(&engagementID, "engagement", 0, "Engagement ID")
	cmd.Flags().StringVar(&image, "image", "", "Image URI, e.g. 123456789012.dkr.ecr.us-east-1.amazonaws.com/app:v1")
	_ = cmd.MarkFlagRequired("engagement")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

func (c *cli) newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending PostgreSQL schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.config.DatabaseURL == "" {
				return errors.New("migrate requires --database-url or DATABASE_URL")
			}
			if err := postgres.Migrate(c.config.DatabaseURL); err != nil {
				return err
			}
			c.logger.Info("Database schema is up to date")
			return nil
		},
	}
}

func (c *cli) newSeedCmd() *cobra.Command {
	var demo bool

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the fixture file (or the demo dataset) into PostgreSQL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.config.DatabaseURL == "" {
				return errors.New("seed requires --database-url or DATABASE_URL")
			}

			var fixture local.Fixture
			switch {
			case demo:
				fixture = mock.DemoFixture()
			case c.config.FixtureFile != "":
				store, err := local.LoadFile(c.config.FixtureFile, c.logger)
				if err != nil {
					return err
				}
				fixture = store.Snapshot()
			default:
				return errors.New("seed requires --fixture-file or --demo")
			}

			pool, err := postgres.NewPool(cmd.Context(), c.config.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			return postgres.NewStore(pool, c.logger).Seed(cmd.Context(), fixture)
		},
	}
	cmd.Flags().BoolVar(&demo, "demo", false, "Seed the built-in demo dataset")
	return cmd
}

func writeOutput(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
