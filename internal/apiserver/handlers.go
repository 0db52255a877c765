package apiserver

import "net/http"

// handleHealth reports liveness only — it never consults the supervisor,
// so an operator can always reach it even while the breaker is tripped.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "chainsentinel",
	})
}

// handleBreakersStatus reports the supervisor's global triggered state,
// risk level, and recovery-mode flag. There is one global trip rather
// than ten independently-toggleable breakers (spec.md §4.8: each check is
// an independent predicate, but they all set one shared Triggered flag),
// so this is the whole picture.
func (s *Server) handleBreakersStatus(w http.ResponseWriter, r *http.Request) {
	triggered, reason := s.supervisor.IsTriggered()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"triggered":   triggered,
		"reason":      reason,
		"risk_level":  s.supervisor.RiskLevel().String(),
		"in_recovery": s.supervisor.InRecoveryMode(),
	})
}

// handleBreakersReset clears the global triggered state. It does not
// clear recovery mode — spec.md §4.8 requires that to be a distinct,
// deliberate operator action via /recovery/clear, since recovery mode
// implies an unresolved in-flight set that a bare breaker reset doesn't
// address.
func (s *Server) handleBreakersReset(w http.ResponseWriter, r *http.Request) {
	s.supervisor.Reset()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "reset"})
}

// handleMetrics reports the rolling risk metrics the breakers read.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap := s.supervisor.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"position_in_flight_wei": snap.PositionInFlight.String(),
		"gas_spent_today_wei":    snap.GasSpentToday.String(),
		"pnl_today_wei":          snap.PnLToday.String(),
		"submissions_in_window":  len(snap.Submissions),
		"triggered":              snap.Triggered,
		"reason":                 snap.Reason,
	})
}

// handleRecoveryStatus reports whether the process booted into, or was
// later forced into, recovery mode (spec.md §4.8).
func (s *Server) handleRecoveryStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"in_recovery": s.supervisor.InRecoveryMode()})
}

// handleRecoveryClear is the explicit operator action that lets
// strategies resume after an emergency, clearing the persisted state
// file so a subsequent restart doesn't re-enter recovery mode.
func (s *Server) handleRecoveryClear(w http.ResponseWriter, r *http.Request) {
	if err := s.supervisor.ClearRecoveryMode(); err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "cleared"})
}
