package events

import (
	"time"

	"github.com/rs/zerolog"
)

// Manager emits incidents onto the bus and logs them, mirroring
// aristath-sentinel/trader/internal/events.Manager's Emit/EmitTyped split,
// collapsed here to a single typed Incident payload since this pipeline has
// no legacy map[string]interface{} events to stay compatible with.
type Manager struct {
	bus *Bus
	log zerolog.Logger
}

// NewManager creates an incident manager over bus.
func NewManager(bus *Bus, log zerolog.Logger) *Manager {
	return &Manager{bus: bus, log: log.With().Str("component", "events").Logger()}
}

// Publish emits an incident to the bus and logs it at a level matching the
// incident's own severity.
func (m *Manager) Publish(level IncidentLevel, component, reason string, metadata map[string]interface{}) Incident {
	incident := Incident{
		Level:     level,
		Component: component,
		Reason:    reason,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}

	m.bus.Emit(EventIncident, incident)

	event := m.log.Info()
	switch level {
	case LevelWarning:
		event = m.log.Warn()
	case LevelCritical:
		event = m.log.Error()
	case LevelFatal:
		event = m.log.Error()
	}
	event.
		Str("level", string(level)).
		Str("component", component).
		Interface("metadata", metadata).
		Msg(reason)

	return incident
}

// Bus exposes the underlying bus so other components can subscribe without
// the Manager needing to know who they are.
func (m *Manager) Bus() *Bus { return m.bus }
