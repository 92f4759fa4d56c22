package audit

import (
	"context"
	"time"

	"github.com/yairfalse/projaudit/internal/gcloud"
	"github.com/yairfalse/projaudit/internal/logger"
)

// Healer grants the log viewer role to the active account the first time a
// log read is denied. The grant is dispatched in the background and never
// awaited; its effect is observed only through the retry pass.
type Healer struct {
	client  gcloud.Client
	org     string
	member  string
	role    string
	enabled bool
	clock   Clock
	log     logger.Logger

	fired       bool
	triggeredAt time.Time
}

// HealerConfig configures a Healer
type HealerConfig struct {
	Client       gcloud.Client
	Organization string
	Account      string
	Role         string
	Enabled      bool
	Clock        Clock
	Logger       logger.Logger
}

// NewHealer creates a healer for the given account.
func NewHealer(config HealerConfig) *Healer {
	if config.Role == "" {
		config.Role = gcloud.LogViewerRole
	}
	if config.Clock == nil {
		config.Clock = RealClock{}
	}
	if config.Logger == nil {
		config.Logger = logger.NewNop()
	}

	return &Healer{
		client:  config.Client,
		org:     config.Organization,
		member:  gcloud.MemberFor(config.Account),
		role:    config.Role,
		enabled: config.Enabled,
		clock:   config.Clock,
		log:     config.Logger,
	}
}

// Trigger dispatches the grant once per run. It reports whether this call
// performed the dispatch.
func (h *Healer) Trigger(ctx context.Context) bool {
	if h.fired || !h.enabled {
		return false
	}

	h.fired = true
	h.triggeredAt = h.clock.Now()

	log := h.log.WithFields(map[string]interface{}{
		"member": h.member,
		"role":   h.role,
		"org":    h.org,
	})
	log.Warn("Log access denied, granting log viewer role in the background")

	// Not tied to the run's cancellation.
	bg := context.WithoutCancel(ctx)
	go func() {
		if err := h.client.GrantOrgRole(bg, h.org, h.member, h.role); err != nil {
			log.WithField("error", err.Error()).Debug("Background grant failed")
			return
		}
		log.Debug("Background grant accepted")
	}()

	return true
}

// TriggeredAt returns when the grant was dispatched, and whether it was.
func (h *Healer) TriggeredAt() (time.Time, bool) {
	return h.triggeredAt, h.fired
}
