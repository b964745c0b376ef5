package scheduler

import (
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/elonfeng/shopguard/internal/logging"
)

// NewSupervisor returns a suture supervisor that logs its events through
// the global logger.
func NewSupervisor(name string) *suture.Supervisor {
	log := logging.Component("supervisor")

	return suture.New(name, suture.Spec{
		EventHook: func(e suture.Event) {
			ev := log.Warn()
			if e.Type() == suture.EventTypeResume {
				ev = log.Info()
			}
			ev.Str("event", e.String()).Fields(e.Map()).Msg("supervisor event")
		},
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	})
}
