package molecule

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Iron-Ham/hookline/internal/errors"
	"github.com/Iron-Ham/hookline/internal/ident"
)

func invalidSteps(format string, args ...any) error {
	return errors.NewValidationError(fmt.Sprintf(format, args...)).WithField("steps")
}

// buildSteps validates specs as a DAG and returns the steps with fresh ids
// and dependencies rewritten to those ids.
func buildSteps(specs []StepSpec, now time.Time) ([]*Step, error) {
	if len(specs) == 0 {
		return nil, invalidSteps("a workflow needs at least one step")
	}

	byKey := make(map[string]int, len(specs))
	byName := make(map[string][]int, len(specs))
	for i, sp := range specs {
		if strings.TrimSpace(sp.Name) == "" {
			return nil, invalidSteps("step %d has no name", i)
		}
		if sp.Key != "" {
			if _, dup := byKey[sp.Key]; dup {
				return nil, invalidSteps("duplicate step key %q", sp.Key)
			}
			byKey[sp.Key] = i
		}
		byName[sp.Name] = append(byName[sp.Name], i)
		if sp.GateID != "" && !sp.IsGate {
			return nil, invalidSteps("step %q names gate %q but is not a gate step", sp.Name, sp.GateID)
		}
	}

	resolve := func(ref string) (int, error) {
		if i, ok := byKey[ref]; ok {
			return i, nil
		}
		switch idx := byName[ref]; len(idx) {
		case 0:
			return 0, fmt.Errorf("unknown dependency %q", ref)
		case 1:
			return idx[0], nil
		default:
			return 0, fmt.Errorf("dependency %q matches %d steps by name; give them keys", ref, len(idx))
		}
	}

	deps := make([][]int, len(specs))
	for i, sp := range specs {
		for _, ref := range sp.DependsOn {
			j, err := resolve(ref)
			if err != nil {
				return nil, invalidSteps("step %q: %v", sp.Name, err)
			}
			if j == i {
				return nil, invalidSteps("step %q depends on itself", sp.Name)
			}
			if !slices.Contains(deps[i], j) {
				deps[i] = append(deps[i], j)
			}
		}
	}
	if cycle := findCycle(deps); cycle != nil {
		names := make([]string, len(cycle))
		for k, i := range cycle {
			names[k] = specs[i].Name
		}
		return nil, invalidSteps("dependency cycle: %s", strings.Join(names, " -> "))
	}

	steps := make([]*Step, len(specs))
	for i, sp := range specs {
		steps[i] = &Step{
			ID:                   ident.NewAt(ident.Step, now),
			Key:                  sp.Key,
			Name:                 sp.Name,
			Description:          sp.Description,
			Department:           sp.Department,
			IsGate:               sp.IsGate,
			GateID:               sp.GateID,
			Status:               StepPending,
			RequiredCapabilities: slices.Clone(sp.RequiredCapabilities),
			DependsOn:            []string{},
			Delegations:          []Delegation{},
		}
	}
	for i, ds := range deps {
		for _, j := range ds {
			steps[i].DependsOn = append(steps[i].DependsOn, steps[j].ID)
		}
	}
	return steps, nil
}

// findCycle returns the indices of one dependency cycle, or nil.
func findCycle(deps [][]int) []int {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(deps))
	var path []int
	var cycle []int

	var visit func(i int) bool
	visit = func(i int) bool {
		state[i] = visiting
		path = append(path, i)
		for _, j := range deps[i] {
			switch state[j] {
			case visiting:
				start := slices.Index(path, j)
				cycle = append(slices.Clone(path[start:]), j)
				return true
			case unvisited:
				if visit(j) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		state[i] = done
		return false
	}
	for i := range deps {
		if state[i] == unvisited && visit(i) {
			return cycle
		}
	}
	return nil
}

// TopologicalOrder returns step ids so that every step follows its
// dependencies, keeping declaration order among independent steps.
func (w *Workflow) TopologicalOrder() []string {
	inDegree := make(map[string]int, len(w.Steps))
	dependents := make(map[string][]string, len(w.Steps))
	for _, s := range w.Steps {
		inDegree[s.ID] += 0
		for _, dep := range s.DependsOn {
			inDegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}
	var order []string
	emitted := make(map[string]bool, len(w.Steps))
	for len(order) < len(w.Steps) {
		progressed := false
		for _, s := range w.Steps {
			if emitted[s.ID] || inDegree[s.ID] > 0 {
				continue
			}
			emitted[s.ID] = true
			order = append(order, s.ID)
			for _, d := range dependents[s.ID] {
				inDegree[d]--
			}
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return order
}

// ValidateSteps reports whether specs form a valid step graph: unique
// keys, known dependencies and no cycles.
func ValidateSteps(specs []StepSpec) error {
	_, err := buildSteps(specs, time.Time{})
	return err
}
