package eventsub

import (
	"context"
	"fmt"
	"strings"

	"yambot/internal/helix"
	"yambot/internal/logging"
	"yambot/internal/telemetry"
)

// Subscriber creates one EventSub subscription.
type Subscriber interface {
	CreateEventSubSubscription(ctx context.Context, sub helix.SubscriptionRequest) (helix.Subscription, error)
}

// SubscriptionManager registers the chat topics against a session.
type SubscriptionManager struct {
	api    Subscriber
	topics []Topic
	logger *logging.Logger
}

// Result is the outcome of one topic registration.
type Result struct {
	Topic          Topic
	SubscriptionID string
	Err            error
}

// Report summarizes a CreateAll batch. Succeeded+Failed always equals the
// number of topics attempted.
type Report struct {
	Succeeded int
	Failed    int
	Warnings  []string
	Results   []Result
}

func NewSubscriptionManager(api Subscriber, logger *logging.Logger) *SubscriptionManager {
	if api == nil {
		panic("eventsub.NewSubscriptionManager: api must not be nil")
	}
	if logger == nil {
		panic("eventsub.NewSubscriptionManager: logger must not be nil")
	}
	return &SubscriptionManager{api: api, topics: Topics, logger: logger}
}

// CreateAll registers every topic for sessionID, one at a time. A failing
// topic never stops the batch; a canceled context marks the remaining
// topics as failed.
func (m *SubscriptionManager) CreateAll(ctx context.Context, sessionID, broadcasterID, userID string) Report {
	report := Report{Results: make([]Result, 0, len(m.topics))}
	for _, topic := range m.topics {
		result := Result{Topic: topic}
		if err := ctx.Err(); err != nil {
			result.Err = &SubscriptionError{Topic: topic.Type, Err: err}
			report.Failed++
			report.Results = append(report.Results, result)
			continue
		}

		sub, err := m.api.CreateEventSubSubscription(ctx, helix.SubscriptionRequest{
			Type:      topic.Type,
			Version:   topic.Version,
			Condition: topic.Condition(broadcasterID, userID),
			Transport: helix.SubscriptionTransport{Method: "websocket", SessionID: sessionID},
		})
		if err != nil {
			forbidden := isForbidden(err)
			result.Err = &SubscriptionError{Topic: topic.Type, Forbidden: forbidden, Err: err}
			report.Failed++
			if forbidden {
				report.Warnings = append(report.Warnings, fmt.Sprintf("Skipped '%s' - Missing OAuth scope: %s", topic.Name, topic.Scope))
				telemetry.Subscriptions.WithLabelValues(topic.Type, "skipped").Inc()
				m.logger.Warn("eventsub subscription skipped, missing scope",
					logging.Field("topic", topic.Type),
					logging.Field("scope", topic.Scope),
				)
			} else {
				telemetry.Subscriptions.WithLabelValues(topic.Type, "failed").Inc()
				m.logger.Error("eventsub subscription failed",
					logging.Field("topic", topic.Type),
					logging.Field("error", err),
				)
			}
		} else {
			result.SubscriptionID = sub.ID
			report.Succeeded++
			telemetry.Subscriptions.WithLabelValues(topic.Type, "ok").Inc()
			m.logger.Debug("eventsub subscription created",
				logging.Field("topic", topic.Type),
				logging.Field("subscription_id", sub.ID),
				logging.Field("status", sub.Status),
			)
		}
		report.Results = append(report.Results, result)
	}

	if report.Succeeded == 0 && len(m.topics) > 0 {
		report.Warnings = append(report.Warnings,
			"All EventSub subscriptions failed! Bot will not receive chat messages or events.",
			"Required OAuth scopes: user:read:chat, user:write:chat",
			"Please re-authorize with the required scopes in Settings.",
		)
	}
	return report
}

// Status is the one-line aggregate shown after a batch.
func (r Report) Status() string {
	switch {
	case r.Succeeded == 0:
		return "EventSub: no subscriptions active, chat events will not be received"
	case r.Failed == 0:
		return fmt.Sprintf("All %d EventSub subscriptions active", r.Succeeded)
	default:
		return fmt.Sprintf("EventSub: %d active, %d skipped (missing OAuth scopes)", r.Succeeded, r.Failed)
	}
}

func isForbidden(err error) bool {
	if helix.IsForbidden(err) {
		return true
	}
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "403") || strings.Contains(text, "forbidden") || strings.Contains(text, "authorization")
}
