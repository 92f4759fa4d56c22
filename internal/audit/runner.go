package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yairfalse/projaudit/internal/gcloud"
	"github.com/yairfalse/projaudit/internal/logger"
)

// DefaultPropagationWait is how long a new IAM binding is given to take
// effect before denied projects are retried.
const DefaultPropagationWait = 60 * time.Second

var (
	// ErrIdentity wraps failures to resolve the active account.
	ErrIdentity = errors.New("identity resolution failed")
	// ErrListing wraps failures to list the organization's projects.
	ErrListing = errors.New("project listing failed")
	// ErrReport wraps failures to create or append to the report.
	ErrReport = errors.New("report write failed")
)

// ReportWriter is the report a run appends to.
type ReportWriter interface {
	RowWriter
	Close() error
}

// Progress displays run progress.
type Progress interface {
	SetTotal(total int)
	Update(completed int)
	Countdown(remaining time.Duration)
	Finish()
}

// Options configures a Runner
type Options struct {
	Client          gcloud.Client
	OpenReport      func() (ReportWriter, error)
	Progress        Progress
	Logger          logger.Logger
	Clock           Clock
	Organization    string
	PropagationWait time.Duration
	Heal            bool
}

// Summary describes a finished run.
type Summary struct {
	Account     string
	Projects    int
	Rows        int
	Retried     int
	StillDenied int
	HealFired   bool
	Elapsed     time.Duration
}

// Runner drives a full audit: resolve identity, list projects, audit each
// one, then wait for the self-heal to propagate and replay the deferred
// projects exactly once.
type Runner struct {
	opts Options
	log  logger.Logger
}

// NewRunner creates a runner
func NewRunner(opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	if opts.Progress == nil {
		opts.Progress = nopProgress{}
	}
	if opts.PropagationWait < 0 {
		opts.PropagationWait = 0
	}

	return &Runner{
		opts: opts,
		log:  opts.Logger.WithField("org", opts.Organization),
	}
}

// Run executes the audit. Per-project failures become report content; only
// identity, listing, report and cancellation errors are returned. The
// returned summary is non-nil whenever the report was opened.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	start := r.opts.Clock.Now()

	account, err := r.opts.Client.ActiveAccount(ctx)
	if err == nil && account == "" {
		err = gcloud.ErrNoActiveAccount
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIdentity, err)
	}
	r.log.WithField("account", account).Info("Using active account")

	projects, err := r.opts.Client.ListProjects(ctx, r.opts.Organization)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrListing, err)
	}

	out, err := r.opts.OpenReport()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReport, err)
	}
	defer out.Close()

	summary := &Summary{Account: account, Projects: len(projects)}
	defer func() { summary.Elapsed = r.opts.Clock.Now().Sub(start) }()

	if len(projects) == 0 {
		r.log.Warn("No projects found in organization")
		return summary, nil
	}
	r.log.WithField("projects", len(projects)).Info("Auditing projects")

	state := NewRunState(len(projects))
	healer := NewHealer(HealerConfig{
		Client:       r.opts.Client,
		Organization: r.opts.Organization,
		Account:      account,
		Enabled:      r.opts.Heal,
		Clock:        r.opts.Clock,
		Logger:       r.log,
	})
	auditor := NewAuditor(r.opts.Client, out, r.log)

	err = r.run(ctx, projects, state, healer, auditor)

	summary.Rows = state.Completed
	summary.Retried = state.Retried
	summary.StillDenied = state.StillDenied
	_, summary.HealFired = healer.TriggeredAt()

	return summary, err
}

func (r *Runner) run(ctx context.Context, projects []gcloud.Project, state *RunState, healer *Healer, auditor *Auditor) error {
	progress := r.opts.Progress
	progress.SetTotal(state.Total)
	progress.Update(state.Completed)
	defer progress.Finish()

	for _, p := range projects {
		if err := ctx.Err(); err != nil {
			return err
		}

		outcome, err := auditor.Audit(ctx, state, p, false)
		if outcome == Interrupted {
			return err
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrReport, err)
		}
		if outcome == Deferred {
			state.Defer(p)
			healer.Trigger(ctx)
		}
		progress.Update(state.Completed)
	}

	if state.Pending() == 0 {
		return nil
	}

	r.log.WithField("deferred", state.Pending()).Info("Retrying projects with denied log access")
	if err := r.waitForPropagation(ctx, healer); err != nil {
		return err
	}

	for _, p := range state.Drain() {
		if err := ctx.Err(); err != nil {
			return err
		}
		outcome, err := auditor.Audit(ctx, state, p, true)
		if outcome == Interrupted {
			return err
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrReport, err)
		}
		progress.Update(state.Completed)
	}

	return nil
}

// waitForPropagation blocks until the propagation budget has elapsed since
// the heal was dispatched, ticking the countdown once per second. Nothing
// is waited for when the heal never fired.
func (r *Runner) waitForPropagation(ctx context.Context, healer *Healer) error {
	triggeredAt, fired := healer.TriggeredAt()
	if !fired {
		r.log.Debug("Self-heal not triggered, retrying without waiting")
		return nil
	}

	remaining := r.opts.PropagationWait - r.opts.Clock.Now().Sub(triggeredAt)
	if remaining <= 0 {
		return nil
	}

	r.log.WithField("wait", remaining.Round(time.Second).String()).Info("Waiting for IAM propagation")
	for remaining > 0 {
		r.opts.Progress.Countdown(remaining)

		step := time.Second
		if remaining < step {
			step = remaining
		}
		if err := r.opts.Clock.Sleep(ctx, step); err != nil {
			return err
		}
		remaining -= step
	}

	return nil
}

type nopProgress struct{}

func (nopProgress) SetTotal(int) {}

func (nopProgress) Update(int) {}

func (nopProgress) Countdown(time.Duration) {}

func (nopProgress) Finish() {}
