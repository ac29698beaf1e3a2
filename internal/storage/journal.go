package storage

import (
	"context"

	"github.com/ernie/renx-relay/internal/domain"
)

// RecordEvent journals the relay events that have a persistent record and
// ignores the rest
func (s *Store) RecordEvent(ctx context.Context, e domain.Event) error {
	switch data := e.Data.(type) {
	case domain.UpstreamConnectedEvent:
		return s.OpenUpstreamSession(ctx, &domain.UpstreamSession{
			ID:          data.SessionID,
			Server:      e.Server,
			Upstream:    data.Upstream,
			Address:     data.Address,
			Identity:    data.Identity,
			ConnectedAt: e.Timestamp,
		})
	case domain.UpstreamDisconnectedEvent:
		return s.CloseUpstreamSession(ctx, data.SessionID, e.Timestamp, data.Reason)
	case domain.CommandEvent:
		outcome := commandOutcome(e.Type)
		if outcome == "" {
			return nil
		}
		return s.RecordCommand(ctx, &domain.CommandRecord{
			Server:     e.Server,
			Upstream:   data.Upstream,
			SessionID:  data.SessionID,
			Command:    data.Command,
			Outcome:    outcome,
			Responses:  data.Responses,
			RecordedAt: e.Timestamp,
		})
	}
	return nil
}

// commandOutcome maps terminal command events to journal outcomes;
// forwarded commands are recorded once they complete
func commandOutcome(eventType string) string {
	switch eventType {
	case domain.EventCommandCompleted:
		return domain.OutcomeCompleted
	case domain.EventCommandFaked:
		return domain.OutcomeFaked
	case domain.EventCommandSuppressed:
		return domain.OutcomeSuppressed
	default:
		return ""
	}
}
