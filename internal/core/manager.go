// Package core wires the session table, status state machine and
// subscription registry into one ConnectionManager, the way the design
// notes call for: "explicit constructor-supplied capability references (a
// small context carrying the oracles, managers, timer, config)" instead of
// the source's process-wide static registry.
package core

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/comcast/trackerd/internal/clock"
	"github.com/comcast/trackerd/internal/model"
	"github.com/comcast/trackerd/internal/oracle"
	"github.com/comcast/trackerd/internal/session"
	"github.com/comcast/trackerd/internal/status"
	"github.com/comcast/trackerd/internal/subscribe"
)

// Config holds the recognized configuration options: statusTimeout,
// statusUpdateDeviceState and databaseRegisterUnknown.
type Config struct {
	// StatusTimeout is the online-decay duration.
	StatusTimeout time.Duration

	// UpdateDeviceState enables the motion/overspeed evaluators on a
	// transition out of ONLINE.
	UpdateDeviceState bool

	// RegisterUnknown enables auto-registration of unrecognized unique ids
	// during Bind.
	RegisterUnknown bool
}

// Dependencies are the external collaborators a Manager is built from.
type Dependencies struct {
	Logger      log.Logger
	Identity    oracle.IdentityOracle
	Devices     oracle.DeviceManager
	Permissions oracle.PermissionsOracle
	Sink        oracle.NotificationSink
	Cache       oracle.CacheCoordinator
	Evaluators  []oracle.Evaluator
	Timer       clock.Timer
}

// Manager is the connection manager: the facade over the session table,
// status state machine and subscription registry that protocol transport
// adapters and the admin HTTP surface talk to.
type Manager struct {
	deps Dependencies

	Sessions      *session.Table
	Status        *status.Machine
	Subscriptions *subscribe.Registry
}

// New constructs a fully-wired Manager. The session table and status
// machine are built independently and then cross-wired (table.Forget calls
// machine.UpdateStatus; machine's online-decay timeout calls
// table.Forget) via the small interfaces each package exports, resolving
// the circular dependency explicitly instead of through global state.
func New(cfg Config, deps Dependencies) *Manager {
	if deps.Timer == nil {
		deps.Timer = clock.NewWheel()
	}

	subscriptions := subscribe.New(deps.Logger, deps.Permissions)

	sessions := session.New(session.Options{
		Logger:          deps.Logger,
		Identity:        deps.Identity,
		Cache:           deps.Cache,
		RegisterUnknown: cfg.RegisterUnknown,
	})

	machine := status.New(status.Options{
		Logger:               deps.Logger,
		Identity:             deps.Identity,
		Devices:              deps.Devices,
		Sink:                 deps.Sink,
		Evaluators:           deps.Evaluators,
		Timer:                deps.Timer,
		Fanout:               subscriptions,
		Timeout:              cfg.StatusTimeout,
		EvaluateOnTransition: cfg.UpdateDeviceState,
	})

	sessions.SetStatusUpdater(machine)
	machine.SetForgetter(sessions)

	return &Manager{
		deps:          deps,
		Sessions:      sessions,
		Status:        machine,
		Subscriptions: subscriptions,
	}
}

// Bind is a convenience forward to Sessions.Bind that also drives the
// device to ONLINE on a successful bind, since a freshly identified
// endpoint is by definition actively talking to the server right now.
func (m *Manager) Bind(ctx context.Context, protocol string, endpoint model.Endpoint, uniqueIDs ...string) (*model.DeviceSession, error) {
	s, err := m.Sessions.Bind(ctx, protocol, endpoint, uniqueIDs...)
	if err != nil || s == nil {
		return s, err
	}

	now := time.Now()
	m.Status.UpdateStatus(ctx, s.DeviceID, model.StatusOnline, &now)
	return s, nil
}

// Disconnect forwards to Sessions.Disconnect.
func (m *Manager) Disconnect(ctx context.Context, endpoint model.Endpoint) {
	m.Sessions.Disconnect(ctx, endpoint)
}

// Close stops the timer wheel, silently dropping every armed online-decay
// timeout.
func (m *Manager) Close() {
	m.deps.Timer.Stop()
}
