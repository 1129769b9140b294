package session

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/noah-isme/printdesk/internal/events"
)

// EventObserver publishes every applied action as a domain event on bus.
// Emission failures are logged; the state change already happened.
func EventObserver(bus *events.Bus) Observer {
	return func(ctx context.Context, c Change) {
		topic, payload := eventFor(c)
		if topic == "" || bus == nil {
			return
		}
		if _, err := bus.Emit(ctx, topic, c.Next.ID, payload); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("topic", topic).Msg("session_event_emit_failed")
		}
	}
}

func eventFor(c Change) (string, map[string]any) {
	next := c.Next
	switch a := c.Action.(type) {
	case Authenticate:
		payload := map[string]any{"version": next.Version}
		if next.User != nil {
			payload["username"] = next.User.Username
		}
		return events.TopicSessionAuthenticated, payload
	case Deauthenticate:
		return events.TopicSessionDeauthenticated, map[string]any{"version": next.Version}
	case SetDocuments:
		ids := make([]string, 0, len(next.Documents))
		for _, d := range next.Documents {
			ids = append(ids, d.ID)
		}
		return events.TopicDocumentsReplaced, map[string]any{"documents": ids, "version": next.Version}
	case SetPrintOptions:
		return events.TopicOptionsChanged, map[string]any{"options": next.Options, "version": next.Version}
	case SetDocumentOptions:
		return events.TopicOptionsChanged, map[string]any{"documentId": a.DocumentID, "cleared": a.Clear, "version": next.Version}
	case RecomputePrice:
		return events.TopicPriceRecomputed, map[string]any{"total": next.Total, "version": next.Version}
	case SelectMerchant:
		return events.TopicMerchantSelected, map[string]any{"merchantId": a.MerchantID, "version": next.Version}
	case MerchantSignIn:
		return events.TopicMerchantSignedIn, map[string]any{"merchantId": string(a.Account.ID), "version": next.Version}
	case MerchantSignOut:
		return events.TopicMerchantSignedOut, map[string]any{"version": next.Version}
	case Reset:
		return events.TopicSessionReset, map[string]any{"version": next.Version}
	default:
		return "", nil
	}
}
