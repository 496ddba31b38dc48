// Package schema validates and decodes the wire format of alarm rules.
// Rule documents are rejected at creation time by the front end; the engine
// still validates defensively on load so a malformed row surfaces as a
// per-alarm failure instead of a panic.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	alarms "cloud-alarming/internal/alarms/domain"
)

const ruleSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["type"],
	"properties": {
		"type": {"enum": ["threshold", "combination", "event"]},
		"backend": {"type": "string"},
		"metric": {"type": "string", "minLength": 1},
		"statistic": {"enum": ["avg", "min", "max", "sum", "count"]},
		"comparison_operator": {"enum": ["eq", "ne", "lt", "le", "gt", "ge"]},
		"threshold": {"type": "number"},
		"evaluation_periods": {"type": "integer", "minimum": 1},
		"granularity": {"type": "string", "minLength": 2},
		"min_samples": {"type": "integer", "minimum": 1},
		"missing_policy": {"enum": ["missing", "breaching", "not-breaching"]},
		"filters": {
			"type": "object",
			"additionalProperties": {"type": "string"}
		},
		"operator": {"enum": ["and", "or"]},
		"child_ids": {
			"type": "array",
			"minItems": 1,
			"items": {"type": "string", "minLength": 1}
		},
		"pattern": {"type": "string", "minLength": 1},
		"conditions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["field", "op"],
				"properties": {
					"field": {"type": "string", "minLength": 1},
					"op": {"enum": ["eq", "exists"]},
					"value": {"type": "string"}
				}
			}
		}
	},
	"allOf": [
		{
			"if": {"properties": {"type": {"const": "threshold"}}},
			"then": {"required": ["metric", "statistic", "comparison_operator", "threshold", "evaluation_periods", "granularity"]}
		},
		{
			"if": {"properties": {"type": {"const": "combination"}}},
			"then": {"required": ["operator", "child_ids"]}
		},
		{
			"if": {"properties": {"type": {"const": "event"}}},
			"then": {"required": ["pattern"]}
		}
	]
}`

var schemaLoader = gojsonschema.NewStringLoader(ruleSchema)

type wireCondition struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value string `json:"value,omitempty"`
}

type wireRule struct {
	Type               string            `json:"type"`
	Backend            string            `json:"backend,omitempty"`
	Metric             string            `json:"metric,omitempty"`
	Statistic          string            `json:"statistic,omitempty"`
	ComparisonOperator string            `json:"comparison_operator,omitempty"`
	Threshold          float64           `json:"threshold,omitempty"`
	EvaluationPeriods  int               `json:"evaluation_periods,omitempty"`
	Granularity        string            `json:"granularity,omitempty"`
	MinSamples         int               `json:"min_samples,omitempty"`
	MissingPolicy      string            `json:"missing_policy,omitempty"`
	Filters            map[string]string `json:"filters,omitempty"`
	Operator           string            `json:"operator,omitempty"`
	ChildIDs           []string          `json:"child_ids,omitempty"`
	Pattern            string            `json:"pattern,omitempty"`
	Conditions         []wireCondition   `json:"conditions,omitempty"`
}

// Validate checks a rule document against the wire schema and reports every
// violation, not just the first.
func Validate(doc []byte) error {
	if len(doc) == 0 {
		return errors.New("schema: empty rule document")
	}
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	if result.Valid() {
		return nil
	}
	violations := make([]string, 0, len(result.Errors()))
	for _, violation := range result.Errors() {
		violations = append(violations, violation.String())
	}
	return fmt.Errorf("schema: invalid rule document: %s", strings.Join(violations, "; "))
}

// Decode validates a rule document and maps it to the domain rule variant.
func Decode(doc []byte) (alarms.Rule, error) {
	if err := Validate(doc); err != nil {
		return alarms.Rule{}, err
	}
	var wire wireRule
	if err := json.Unmarshal(doc, &wire); err != nil {
		return alarms.Rule{}, fmt.Errorf("schema: %w", err)
	}

	var rule alarms.Rule
	switch wire.Type {
	case string(alarms.RuleTypeThreshold):
		granularity, err := time.ParseDuration(wire.Granularity)
		if err != nil {
			return alarms.Rule{}, fmt.Errorf("schema: invalid granularity %q: %w", wire.Granularity, err)
		}
		rule = alarms.Rule{
			Type: alarms.RuleTypeThreshold,
			Threshold: &alarms.ThresholdRule{
				Backend:           wire.Backend,
				Metric:            wire.Metric,
				Statistic:         alarms.Statistic(wire.Statistic),
				Comparison:        alarms.Comparison(wire.ComparisonOperator),
				Threshold:         wire.Threshold,
				EvaluationPeriods: wire.EvaluationPeriods,
				Granularity:       granularity,
				MinSamples:        wire.MinSamples,
				MissingPolicy:     alarms.MissingPolicy(wire.MissingPolicy),
				Filters:           wire.Filters,
			},
		}
	case string(alarms.RuleTypeCombination):
		rule = alarms.Rule{
			Type: alarms.RuleTypeCombination,
			Combination: &alarms.CombinationRule{
				Operator: alarms.BoolOperator(wire.Operator),
				ChildIDs: append([]string(nil), wire.ChildIDs...),
			},
		}
	case string(alarms.RuleTypeEvent):
		conditions := make([]alarms.FieldCondition, 0, len(wire.Conditions))
		for _, c := range wire.Conditions {
			conditions = append(conditions, alarms.FieldCondition{
				Field: c.Field,
				Op:    alarms.FieldConditionOp(c.Op),
				Value: c.Value,
			})
		}
		rule = alarms.Rule{
			Type: alarms.RuleTypeEvent,
			Event: &alarms.EventRule{
				Backend:    wire.Backend,
				Pattern:    wire.Pattern,
				Conditions: conditions,
			},
		}
	default:
		return alarms.Rule{}, fmt.Errorf("schema: unknown rule type %q", wire.Type)
	}
	if err := rule.Validate(); err != nil {
		return alarms.Rule{}, fmt.Errorf("schema: %w", err)
	}
	return rule, nil
}

// Encode renders a domain rule back to its wire document, the inverse of
// Decode. Used by stores that persist rules as JSON.
func Encode(rule alarms.Rule) ([]byte, error) {
	if err := rule.Validate(); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	wire := wireRule{Type: string(rule.Type)}
	switch rule.Type {
	case alarms.RuleTypeThreshold:
		t := rule.Threshold
		wire.Backend = t.Backend
		wire.Metric = t.Metric
		wire.Statistic = string(t.Statistic)
		wire.ComparisonOperator = string(t.Comparison)
		wire.Threshold = t.Threshold
		wire.EvaluationPeriods = t.EvaluationPeriods
		wire.Granularity = t.Granularity.String()
		wire.MinSamples = t.MinSamples
		wire.MissingPolicy = string(t.MissingPolicy)
		wire.Filters = t.Filters
	case alarms.RuleTypeCombination:
		wire.Operator = string(rule.Combination.Operator)
		wire.ChildIDs = rule.Combination.ChildIDs
	case alarms.RuleTypeEvent:
		wire.Backend = rule.Event.Backend
		wire.Pattern = rule.Event.Pattern
		for _, c := range rule.Event.Conditions {
			wire.Conditions = append(wire.Conditions, wireCondition{
				Field: c.Field,
				Op:    string(c.Op),
				Value: c.Value,
			})
		}
	}
	return json.Marshal(wire)
}
