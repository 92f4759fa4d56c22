package commands

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yairfalse/projaudit/internal/audit"
	"github.com/yairfalse/projaudit/internal/errors"
	"github.com/yairfalse/projaudit/internal/gcloud"
	"github.com/yairfalse/projaudit/internal/logger"
	"github.com/yairfalse/projaudit/internal/output"
	"github.com/yairfalse/projaudit/internal/report"
	"github.com/yairfalse/projaudit/pkg/config"
)

// Replaced in tests.
var (
	newClient   = defaultClient
	newUploader = report.NewUploader
	newClock    = func() audit.Clock { return audit.RealClock{} }
)

// NewRootCommand builds the projaudit command with its own configuration.
func NewRootCommand() *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "projaudit --org ORG_ID [--out FILE]",
		Short: "Report who created and who owns every project in a GCP organization",
		Long: `projaudit lists every project under a Google Cloud organization and
writes one CSV row per project with its creation time, the principal that
created it (from Cloud Audit Logs) and its current owners (from IAM).

When the active account is denied access to a project's logs, projaudit
grants itself roles/logging.viewer on the organization once, in the
background, waits for the binding to propagate and retries the denied
projects a single time.

Examples:
  projaudit --org 123456789012
  projaudit --org 123456789012 --out audit.csv --upload gs://reports/
  projaudit --org 123456789012 --backend api --credentials sa.json`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
				runVersion(cmd, args)
				return nil
			}

			cfg, err := loadConfig(v, cfgFile)
			if err != nil {
				return err
			}

			// Configuration is valid, usage no longer helps.
			cmd.SilenceUsage = true
			return runAudit(cmd.Context(), cmd.ErrOrStderr(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.projaudit/config.yaml)")
	flags.String("org", "", "organization id to audit (required)")
	flags.String("out", "output.csv", "CSV report path")
	flags.String("backend", config.BackendGCloud, "Google Cloud backend (gcloud, api)")
	flags.String("gcloud-path", "gcloud", "gcloud CLI binary")
	flags.String("freshness", "400d", "how far back to search audit logs")
	flags.Duration("propagation-wait", audit.DefaultPropagationWait, "time to let the log viewer grant propagate before retrying")
	flags.Bool("no-heal", false, "do not grant the log viewer role when log access is denied")
	flags.String("credentials", "", "service account key file for the api backend and gs:// uploads")
	flags.String("upload", "", "copy the finished report to gs://bucket/path or s3://bucket/key")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	flags.Bool("no-color", false, "disable colored output")
	flags.Bool("version", false, "show version information")

	v.BindPFlag("audit.org", flags.Lookup("org"))
	v.BindPFlag("audit.out", flags.Lookup("out"))
	v.BindPFlag("audit.propagation_wait", flags.Lookup("propagation-wait"))
	v.BindPFlag("audit.no_heal", flags.Lookup("no-heal"))
	v.BindPFlag("audit.upload", flags.Lookup("upload"))
	v.BindPFlag("gcp.backend", flags.Lookup("backend"))
	v.BindPFlag("gcp.gcloud_path", flags.Lookup("gcloud-path"))
	v.BindPFlag("gcp.freshness", flags.Lookup("freshness"))
	v.BindPFlag("gcp.credentials", flags.Lookup("credentials"))
	v.BindPFlag("logging.level", flags.Lookup("log-level"))
	v.BindPFlag("logging.format", flags.Lookup("log-format"))
	v.BindPFlag("output.no_color", flags.Lookup("no-color"))

	cmd.AddCommand(newVersionCommand())

	return cmd
}

// Execute runs the root command and exits with a code matching the error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := NewRootCommand().ExecuteContext(ctx)
	stop()

	if err != nil {
		errors.DisplayError(os.Stderr, err, output.ColorDisabled(os.Stderr, false))
		os.Exit(errors.GetExitCode(err))
	}
}

func loadConfig(v *viper.Viper, cfgFile string) (*config.Config, error) {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return nil, errors.ConfigurationError(err)
	}

	if err := cfg.ExpandPaths(); err != nil {
		return nil, errors.ConfigurationError(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigurationError(err)
	}

	return cfg, nil
}

func newLogger(w io.Writer, cfg *config.Config) (logger.Logger, error) {
	log := logger.NewLogrus(w)
	if err := log.SetLevel(cfg.Logging.Level); err != nil {
		return nil, errors.ConfigurationError(fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err))
	}
	log.SetFormat(cfg.Logging.Format)
	log.SetNoColor(output.ColorDisabled(w, cfg.Output.NoColor))
	return log, nil
}

func runAudit(ctx context.Context, stderr io.Writer, cfg *config.Config) error {
	log, err := newLogger(stderr, cfg)
	if err != nil {
		return err
	}

	client, err := newClient(ctx, cfg, log)
	if err != nil {
		return err
	}

	progress := output.NewProgressBar(output.ProgressBarConfig{
		Title:   "Auditing",
		Writer:  stderr,
		NoColor: output.ColorDisabled(stderr, cfg.Output.NoColor),
	})

	runner := audit.NewRunner(audit.Options{
		Client: client,
		OpenReport: func() (audit.ReportWriter, error) {
			return report.Create(cfg.Audit.OutFile)
		},
		Progress:        progress,
		Logger:          log,
		Clock:           newClock(),
		Organization:    cfg.Audit.Organization,
		PropagationWait: cfg.Audit.PropagationWait,
		Heal:            !cfg.Audit.NoHeal,
	})

	summary, err := runner.Run(ctx)
	if summary != nil {
		logSummary(log, summary)
	}
	if err != nil {
		if summary != nil {
			log.Error("Audit stopped early", err)
		}
		return runError(ctx, cfg, err)
	}

	log.WithField("path", cfg.Audit.OutFile).Info("Report written")

	if cfg.Audit.Upload != "" {
		return upload(ctx, cfg, log)
	}

	return nil
}

func runError(ctx context.Context, cfg *config.Config, err error) error {
	switch {
	case ctx.Err() != nil:
		return errors.InterruptedError(cfg.Audit.OutFile, err)
	case stderrors.Is(err, audit.ErrIdentity):
		return errors.IdentityError(err)
	case stderrors.Is(err, audit.ErrListing):
		return errors.ListingError(cfg.Audit.Organization, err)
	case stderrors.Is(err, audit.ErrReport):
		return errors.ReportFileError(cfg.Audit.OutFile, err)
	default:
		return err
	}
}

func logSummary(log logger.Logger, s *audit.Summary) {
	log.WithFields(map[string]interface{}{
		"projects":     s.Projects,
		"rows":         s.Rows,
		"retried":      s.Retried,
		"still_denied": s.StillDenied,
		"heal_fired":   s.HealFired,
		"elapsed":      s.Elapsed.Round(time.Second).String(),
	}).Info("Audit complete")
}

func upload(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	dst, err := report.ParseDestination(cfg.Audit.Upload, cfg.Audit.OutFile)
	if err != nil {
		return errors.ConfigurationError(err)
	}

	uploader, err := newUploader(ctx, dst, cfg.GCP.CredentialsFile)
	if err != nil {
		return errors.UploadError(dst.String(), err)
	}
	defer uploader.Close()

	if err := uploader.Upload(ctx, cfg.Audit.OutFile, dst); err != nil {
		return errors.UploadError(dst.String(), err)
	}

	log.WithField("destination", dst.String()).Info("Report uploaded")
	return nil
}

func defaultClient(ctx context.Context, cfg *config.Config, log logger.Logger) (gcloud.Client, error) {
	switch cfg.GCP.Backend {
	case config.BackendAPI:
		client, err := gcloud.NewAPIClient(ctx, gcloud.APIConfig{
			CredentialsFile: cfg.GCP.CredentialsFile,
			Freshness:       cfg.GCP.Freshness,
			Logger:          log,
		})
		if err != nil {
			return nil, errors.IdentityError(err)
		}
		return client, nil
	default:
		detected := config.DetectGCloud(ctx, cfg.GCP.GcloudPath)
		if !detected.Available {
			err := errors.New(errors.ErrorTypeConfiguration, "gcloud CLI not found").
				WithCause(fmt.Sprintf("%q is not on PATH", cfg.GCP.GcloudPath))
			err.WithSolutions(
				"Install the Google Cloud SDK: https://cloud.google.com/sdk/docs/install",
				"Point --gcloud-path at the gcloud binary",
				"Use --backend api with application default credentials",
			)
			err.WithVerify("gcloud version")
			return nil, err
		}
		log.WithField("gcloud", detected.Status).Debug("Using gcloud CLI")

		return gcloud.NewCLIClient(gcloud.CLIConfig{
			Binary:    detected.Path,
			Freshness: cfg.GCP.Freshness,
			Logger:    log,
		}), nil
	}
}
