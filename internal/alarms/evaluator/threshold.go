package evaluator

import (
	"context"
	"errors"
	"fmt"
	"time"

	alarms "cloud-alarming/internal/alarms/domain"
	"cloud-alarming/internal/backends"
	"cloud-alarming/internal/observability/metrics"
)

// evaluateThreshold queries evaluation_periods consecutive windows of
// granularity ending at now and applies the consecutive-breach rule: alarm
// only when every window breaches.
func (e *Evaluator) evaluateThreshold(ctx context.Context, rule alarms.ThresholdRule, now time.Time) (Verdict, error) {
	backendName := rule.Backend
	if backendName == "" {
		backendName = e.defaultSeries
	}
	querier, err := e.registry.Series(backendName)
	if err != nil {
		return Verdict{}, err
	}

	periods := rule.EvaluationPeriods
	start := now.Add(-time.Duration(periods) * rule.Granularity)
	step := rule.Granularity / 4
	if step < time.Second {
		step = time.Second
	}
	points, err := querier.QuerySeries(ctx, backends.SeriesQuery{
		Metric:  rule.Metric,
		Filters: rule.Filters,
		Start:   start,
		End:     now,
		Step:    step,
	})
	if errors.Is(err, backends.ErrUnavailable) {
		// Unreachable backend always propagates, regardless of how much
		// partial data other windows might have had.
		metrics.IncBackendUnavailable(backendName)
		return Verdict{
			State:  alarms.StateInsufficientData,
			Reason: fmt.Sprintf("backend %s unavailable", backendName),
		}, nil
	}
	if err != nil {
		return Verdict{}, err
	}

	windows := make([][]float64, periods)
	for _, point := range points {
		offset := point.At.Sub(start)
		if offset < 0 {
			continue
		}
		idx := int(offset / rule.Granularity)
		if idx >= periods {
			continue
		}
		windows[idx] = append(windows[idx], point.Value)
	}

	minSamples := rule.MinSamples
	if minSamples <= 0 {
		minSamples = e.defaultMinimum
	}
	policy := rule.MissingPolicy
	if policy == "" {
		policy = alarms.MissingPropagate
	}

	breaching := 0
	short := 0
	for _, samples := range windows {
		if len(samples) < minSamples {
			short++
			if policy == alarms.MissingBreaching {
				breaching++
			}
			continue
		}
		if rule.Comparison.Holds(statValue(rule.Statistic, samples), rule.Threshold) {
			breaching++
		}
	}

	condition := fmt.Sprintf("%s(%s) %s %g", rule.Statistic, rule.Metric, rule.Comparison, rule.Threshold)
	if policy == alarms.MissingPropagate && short > 0 {
		return Verdict{
			State:  alarms.StateInsufficientData,
			Reason: fmt.Sprintf("%d of %d windows lack data for %s", short, periods, condition),
		}, nil
	}
	if breaching == periods {
		return Verdict{
			State:  alarms.StateAlarm,
			Reason: fmt.Sprintf("%d consecutive windows breaching %s", periods, condition),
		}, nil
	}
	return Verdict{
		State:  alarms.StateOK,
		Reason: fmt.Sprintf("%d of %d windows breaching %s", breaching, periods, condition),
	}, nil
}

func statValue(statistic alarms.Statistic, samples []float64) float64 {
	switch statistic {
	case alarms.StatisticCount:
		return float64(len(samples))
	case alarms.StatisticSum, alarms.StatisticAvg:
		sum := 0.0
		for _, v := range samples {
			sum += v
		}
		if statistic == alarms.StatisticSum {
			return sum
		}
		return sum / float64(len(samples))
	case alarms.StatisticMin:
		minValue := samples[0]
		for _, v := range samples[1:] {
			if v < minValue {
				minValue = v
			}
		}
		return minValue
	case alarms.StatisticMax:
		maxValue := samples[0]
		for _, v := range samples[1:] {
			if v > maxValue {
				maxValue = v
			}
		}
		return maxValue
	default:
		return 0
	}
}
