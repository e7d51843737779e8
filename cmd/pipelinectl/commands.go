package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/febrile-severity-server/internal/audit"
	"github.com/febrile-severity-server/internal/auth"
	"github.com/febrile-severity-server/internal/config"
	"github.com/febrile-severity-server/internal/domain"
	"github.com/febrile-severity-server/internal/logging"
	"github.com/febrile-severity-server/internal/pipeline"
	"github.com/febrile-severity-server/internal/service"
)

type globalFlags struct {
	configFile string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "pipelinectl",
		Short:         "Operate the febrile severity model artifacts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Log progress to stderr")

	rootCmd.AddCommand(
		newValidateCmd(flags),
		newPredictCmd(flags),
		newJWKSCmd(flags),
		newAuditCmd(flags),
	)
	return rootCmd
}

func (f *globalFlags) load() (*domain.Config, error) {
	var opts []config.Option
	if f.configFile != "" {
		opts = append(opts, config.WithConfigFile(f.configFile))
	}
	m, err := config.NewManager(opts...)
	if err != nil {
		return nil, err
	}
	return m.GetConfig(), nil
}

func (f *globalFlags) logger() *logrus.Logger {
	if !f.verbose {
		return logging.Discard()
	}
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

type artifactFlags struct {
	dir      string
	pipeline string
	metadata string
	features string
}

func (a *artifactFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.dir, "dir", "", "Read artifacts from this local directory")
	cmd.Flags().StringVar(&a.pipeline, "pipeline", "", "Pipeline bundle name (overrides config)")
	cmd.Flags().StringVar(&a.metadata, "metadata", "", "Metadata document name (overrides config)")
	cmd.Flags().StringVar(&a.features, "features", "", "Feature names document name (overrides config)")
}

// apply overlays flag values on the configured artifact location. --dir
// switches to the local filesystem and resolves names relative to it.
func (a *artifactFlags) apply(cfg domain.ArtifactsConfig) domain.ArtifactsConfig {
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.PipelinePath, a.pipeline)
	override(&cfg.MetadataPath, a.metadata)
	override(&cfg.FeaturesPath, a.features)

	if a.dir != "" {
		cfg.Source = "file"
		for _, p := range []*string{&cfg.PipelinePath, &cfg.MetadataPath, &cfg.FeaturesPath} {
			if !filepath.IsAbs(*p) {
				*p = filepath.Join(a.dir, filepath.Base(*p))
			}
		}
	}
	return cfg
}

func loadArtifacts(ctx context.Context, flags *globalFlags, af *artifactFlags) (*pipeline.Artifacts, error) {
	cfg, err := flags.load()
	if err != nil {
		return nil, err
	}
	return pipeline.LoadFromConfig(ctx, af.apply(cfg.Artifacts))
}

func newValidateCmd(flags *globalFlags) *cobra.Command {
	af := &artifactFlags{}
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load the artifacts and check them against the feature contract",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			artifacts, err := loadArtifacts(cmd.Context(), flags, af)
			if err != nil {
				return err
			}
			return printSummary(cmd.OutOrStdout(), artifacts, time.Since(start))
		},
	}
	af.register(cmd)
	return cmd
}

func printSummary(out io.Writer, a *pipeline.Artifacts, elapsed time.Duration) error {
	meta := a.Metadata()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "version\t%s\n", meta.Version)
	fmt.Fprintf(w, "model\t%s (%s)\n", meta.ModelName, meta.ModelType)
	fmt.Fprintf(w, "calibrated\t%t\n", meta.Calibrated)
	fmt.Fprintf(w, "input columns\t%d\n", len(a.OriginalFeatures()))
	fmt.Fprintf(w, "encoded features\t%s\n", humanize.Comma(int64(len(a.FeatureNames()))))
	fmt.Fprintf(w, "classes\t%d\n", len(a.Classifier().Classes()))
	fmt.Fprintf(w, "train/test\t%s / %s\n", humanize.Comma(int64(meta.TrainSize)), humanize.Comma(int64(meta.TestSize)))
	fmt.Fprintf(w, "loaded in\t%s\n", elapsed.Round(time.Millisecond))
	fmt.Fprintln(w, "status\tOK")
	return w.Flush()
}

func newPredictCmd(flags *globalFlags) *cobra.Command {
	af := &artifactFlags{}
	var recordPath string
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Classify a clinical record read from a JSON file (or - for stdin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			record, err := readRecord(cmd.InOrStdin(), recordPath)
			if err != nil {
				return err
			}
			if errs := record.Validate(); len(errs) > 0 {
				msgs := make([]string, len(errs))
				for i, e := range errs {
					msgs[i] = e.Error()
				}
				return fmt.Errorf("invalid record: %s", strings.Join(msgs, "; "))
			}

			artifacts, err := loadArtifacts(cmd.Context(), flags, af)
			if err != nil {
				return err
			}
			svc := service.NewInferenceService(artifacts, flags.logger(), nil)
			result, err := svc.Predict(cmd.Context(), record)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	af.register(cmd)
	cmd.Flags().StringVarP(&recordPath, "record", "r", "-", "Clinical record JSON file")
	return cmd
}

func readRecord(stdin io.Reader, path string) (*domain.ClinicalRecord, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening record: %w", err)
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading record: %w", err)
	}
	record, err := domain.DecodeRecordStrict(data)
	if err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	return record, nil
}

func newJWKSCmd(flags *globalFlags) *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "jwks",
		Short: "List the key ids published by the configured issuer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if url == "" {
				url = auth.JWKSURL(cfg.Auth)
			}
			if url == "" {
				return fmt.Errorf("no key set configured; set auth.issuer_url or pass --url")
			}

			keys, err := auth.NewKeyCache(auth.KeyCacheConfig{
				Timeout: cfg.Auth.JWKSTimeout,
				APIKey:  cfg.Auth.APIKey,
			}, flags.logger(), nil)
			if err != nil {
				return err
			}
			ids, err := keys.KeyIDs(cmd.Context(), url)
			if err != nil {
				return err
			}
			for _, id := range ids {
				if id == "" {
					id = "(no kid)"
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Key set URL (defaults to the configured issuer)")
	return cmd
}

func newAuditCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and migrate the access trail",
	}

	var limit int
	recent := &cobra.Command{
		Use:   "recent",
		Short: "Print the most recent access entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			store, err := audit.NewStore(cmd.Context(), cfg.Audit, flags.logger())
			if err != nil {
				return err
			}
			defer store.Close()

			total, err := store.Count(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printEntries(cmd.OutOrStdout(), entries, total)
		},
	}
	recent.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries")

	migrateCmd := func(use, short string, run func(*audit.MigrationRunner, context.Context) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := flags.load()
				if err != nil {
					return err
				}
				driver := cfg.Audit.Driver
				if driver == "" {
					driver = audit.DriverSQLite
				}
				runner, err := audit.NewMigrationRunner(driver, cfg.Audit.DSN, flags.logger())
				if err != nil {
					return err
				}
				defer runner.Close()
				if err := run(runner, cmd.Context()); err != nil {
					return err
				}
				v, dirty, err := runner.Version()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", v, dirty)
				return nil
			},
		}
	}

	cmd.AddCommand(
		recent,
		migrateCmd("migrate-up", "Apply pending access trail migrations", (*audit.MigrationRunner).Up),
		migrateCmd("migrate-down", "Roll back the latest access trail migration", (*audit.MigrationRunner).Down),
	)
	return cmd
}

func printEntries(out io.Writer, entries []domain.AccessEntry, total int64) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tSUBJECT\tMETHOD\tROUTE\tSTATUS\tOUTCOME\tLATENCY")
	for _, e := range entries {
		subject := e.Subject
		if subject == "" {
			subject = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%dms\n",
			humanize.Time(e.Timestamp), subject, e.Method, e.Route, e.Status, e.Outcome, e.LatencyMs)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "%s of %s entries\n", humanize.Comma(int64(len(entries))), humanize.Comma(total))
	return err
}
