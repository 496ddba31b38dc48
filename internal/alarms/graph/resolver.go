// Package graph owns the combination-alarm dependency graph for the
// duration of one evaluation pass. It is rebuilt from the definition
// snapshot every cycle.
package graph

import (
	"errors"
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	alarms "cloud-alarming/internal/alarms/domain"
)

// Resolver builds the directed dependency graph and supplies the order in
// which alarms must be evaluated: children strictly before the combination
// alarms that reference them.
type Resolver struct {
	g        *simple.DirectedGraph
	nodeFor  map[string]int64
	alarmFor map[int64]string
	children map[string][]string
	next     int64
}

// NewResolver builds the graph from an alarm snapshot. Child references to
// alarms outside the snapshot still become nodes so ordering stays total;
// the evaluator treats them as insufficient-data.
func NewResolver(snapshot []alarms.Alarm) *Resolver {
	r := &Resolver{
		g:        simple.NewDirectedGraph(),
		nodeFor:  make(map[string]int64),
		alarmFor: make(map[int64]string),
		children: make(map[string][]string),
	}
	for _, alarm := range snapshot {
		r.node(alarm.ID)
	}
	for _, alarm := range snapshot {
		if alarm.Rule.Type != alarms.RuleTypeCombination || alarm.Rule.Combination == nil {
			continue
		}
		parent := r.node(alarm.ID)
		for _, childID := range alarm.Rule.Combination.ChildIDs {
			if childID == alarm.ID {
				// Self-reference is the smallest cycle.
				r.children[alarm.ID] = append(r.children[alarm.ID], childID)
				continue
			}
			child := r.node(childID)
			// Edge child -> parent, so a topological sort yields
			// children first.
			r.g.SetEdge(r.g.NewEdge(r.g.Node(child), r.g.Node(parent)))
			r.children[alarm.ID] = append(r.children[alarm.ID], childID)
		}
	}
	return r
}

func (r *Resolver) node(id string) int64 {
	if nodeID, ok := r.nodeFor[id]; ok {
		return nodeID
	}
	nodeID := r.next
	r.next++
	r.nodeFor[id] = nodeID
	r.alarmFor[nodeID] = id
	r.g.AddNode(simple.Node(nodeID))
	return nodeID
}

// Validate reports a CycleError naming the members of the first detected
// cycle, or nil when the graph is acyclic.
func (r *Resolver) Validate() error {
	if selfRef := r.selfReferences(); len(selfRef) > 0 {
		return &alarms.CycleError{Members: selfRef[:1]}
	}
	_, err := topo.Sort(r.g)
	if err == nil {
		return nil
	}
	var unorderable topo.Unorderable
	if !errors.As(err, &unorderable) {
		return err
	}
	members := make([]string, 0, len(unorderable[0]))
	for _, node := range unorderable[0] {
		members = append(members, r.alarmFor[node.ID()])
	}
	sort.Strings(members)
	return &alarms.CycleError{Members: members}
}

// Order returns the evaluation order (leaves first) and the set of alarms
// excluded from this cycle: cycle members plus every combination alarm
// that depends, transitively, on one. Excluded alarms are reported, never
// evaluated with stale or default child data.
func (r *Resolver) Order() (order []string, skipped []string) {
	skip := make(map[string]bool)
	for _, id := range r.selfReferences() {
		skip[id] = true
	}

	sorted, err := topo.Sort(r.g)
	var unorderable topo.Unorderable
	if errors.As(err, &unorderable) {
		for _, cycle := range unorderable {
			for _, node := range cycle {
				skip[r.alarmFor[node.ID()]] = true
			}
		}
	}

	for _, node := range sorted {
		if node == nil {
			// Placeholder for an unorderable component.
			continue
		}
		id := r.alarmFor[node.ID()]
		if skip[id] {
			continue
		}
		blocked := false
		for _, childID := range r.children[id] {
			if skip[childID] {
				blocked = true
				break
			}
		}
		if blocked {
			skip[id] = true
			continue
		}
		order = append(order, id)
	}

	skipped = make([]string, 0, len(skip))
	for id := range skip {
		skipped = append(skipped, id)
	}
	sort.Strings(skipped)
	return order, skipped
}

func (r *Resolver) selfReferences() []string {
	var ids []string
	for parent, childIDs := range r.children {
		for _, childID := range childIDs {
			if childID == parent {
				ids = append(ids, parent)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids
}
