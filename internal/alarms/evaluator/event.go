package evaluator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	alarms "cloud-alarming/internal/alarms/domain"
	"cloud-alarming/internal/backends"
	"cloud-alarming/internal/observability/metrics"
)

// evaluateEvent checks the events observed since the last cycle against the
// rule. A matching event proposes alarm; no match yields no verdict, so the
// alarm state stays as it is.
func (e *Evaluator) evaluateEvent(ctx context.Context, rule alarms.EventRule, since, now time.Time) (Verdict, error) {
	backendName := rule.Backend
	if backendName == "" {
		backendName = e.defaultEvents
	}
	querier, err := e.registry.Events(backendName)
	if err != nil {
		return Verdict{}, err
	}
	if since.IsZero() || !since.Before(now) {
		since = now.Add(-time.Minute)
	}
	events, err := querier.QueryEvents(ctx, backends.EventQuery{Start: since, End: now})
	if errors.Is(err, backends.ErrUnavailable) {
		metrics.IncBackendUnavailable(backendName)
		return Verdict{
			State:  alarms.StateInsufficientData,
			Reason: fmt.Sprintf("backend %s unavailable", backendName),
		}, nil
	}
	if err != nil {
		return Verdict{}, err
	}

	for _, event := range events {
		if !matchPattern(rule.Pattern, event.Type) {
			continue
		}
		if !matchConditions(rule.Conditions, event.Fields) {
			continue
		}
		return Verdict{
			State:  alarms.StateAlarm,
			Reason: fmt.Sprintf("event %s at %s matched pattern %s", event.Type, event.At.UTC().Format(time.RFC3339), rule.Pattern),
		}, nil
	}
	return Verdict{None: true}, nil
}

// matchPattern supports exact matches plus a single leading or trailing
// glob star.
func matchPattern(pattern, eventType string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(eventType, strings.TrimSuffix(pattern, "*"))
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(eventType, strings.TrimPrefix(pattern, "*"))
	default:
		return pattern == eventType
	}
}

func matchConditions(conditions []alarms.FieldCondition, fields map[string]string) bool {
	for _, condition := range conditions {
		value, ok := fields[condition.Field]
		switch condition.Op {
		case alarms.FieldExists:
			if !ok {
				return false
			}
		case alarms.FieldEquals:
			if !ok || value != condition.Value {
				return false
			}
		default:
			return false
		}
	}
	return true
}
