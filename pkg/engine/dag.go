package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Describer is implemented by anything the dependency resolver can order.
type Describer interface {
	Describe() HelperDescriptor
}

// ResolveOptions configures one resolver pass.
type ResolveOptions struct {
	// Upstream lists keys produced by an earlier phase. Dependencies on them are
	// satisfied without adding an ordering edge.
	Upstream []string

	// EntryKeys are phase-entry keys exempt from unused-helper detection. When
	// empty, unused-helper detection is disabled for the pass.
	EntryKeys []string

	// ExternalReferences are keys named as dependencies by helpers of a later phase.
	ExternalReferences []string
}

// MissingDependency pairs a helper with the dependency keys nothing provides.
type MissingDependency struct {
	Key          string   `json:"key"`
	Dependencies []string `json:"dependencies"`
}

// Resolution is the output of ResolveHelpers.
type Resolution[H Describer] struct {
	// Order is the executable order. It is empty when Err is set.
	Order []H

	// Diagnostics are the missing-dependency and unused-helper findings in helper order.
	Diagnostics []Diagnostic

	// Missing groups unresolved dependencies per helper.
	Missing []MissingDependency

	// Blocked lists helpers excluded from execution because they, or something
	// they depend on, have unresolved dependencies.
	Blocked []string
}

// ResolveHelpers orders helpers of one kind so that every helper follows its dependencies.
// Helpers with no ordering constraint between them keep registration order.
//
// Missing dependencies are recorded as diagnostics and then reported as one aggregated
// validation error. A cycle is a validation error with the cycle path.
func ResolveHelpers[H Describer](helpers []H, opts ResolveOptions) (*Resolution[H], error) {
	res := &Resolution[H]{}

	descs := make([]HelperDescriptor, len(helpers))
	index := make(map[string]int, len(helpers))
	for i, h := range helpers {
		descs[i] = h.Describe()
		index[descs[i].Key] = i
	}

	upstream := make(map[string]bool, len(opts.Upstream))
	for _, key := range opts.Upstream {
		upstream[key] = true
	}

	// dependents[i] lists helpers that must run after helper i
	dependents := make([][]int, len(helpers))
	inDegree := make([]int, len(helpers))
	referenced := make(map[string]bool)
	for _, key := range opts.ExternalReferences {
		referenced[key] = true
	}

	missingByHelper := make(map[int][]string)
	for i, desc := range descs {
		seen := make(map[string]bool, len(desc.DependsOn))
		for _, dep := range desc.DependsOn {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			referenced[dep] = true

			if j, ok := index[dep]; ok {
				dependents[j] = append(dependents[j], i)
				inDegree[i]++
				continue
			}
			if upstream[dep] {
				continue
			}

			missingByHelper[i] = append(missingByHelper[i], dep)
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Type:       DiagnosticMissingDependency,
				Key:        desc.Key,
				Dependency: dep,
				Kind:       desc.Kind,
			})
		}
	}

	if len(opts.EntryKeys) > 0 {
		entry := make(map[string]bool, len(opts.EntryKeys))
		for _, key := range opts.EntryKeys {
			entry[key] = true
		}
		for _, desc := range descs {
			if referenced[desc.Key] || entry[desc.Key] {
				continue
			}
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Type: DiagnosticUnusedHelper,
				Key:  desc.Key,
				Kind: desc.Kind,
			})
		}
	}

	if len(missingByHelper) > 0 {
		broken := make([]int, 0, len(missingByHelper))
		for i := range missingByHelper {
			broken = append(broken, i)
		}
		sort.Ints(broken)
		for _, i := range broken {
			res.Missing = append(res.Missing, MissingDependency{
				Key:          descs[i].Key,
				Dependencies: missingByHelper[i],
			})
		}
		res.Blocked = blockedHelpers(descs, dependents, broken)
		return res, newMissingDependencyError(res.Missing)
	}

	if cycle := findCycle(descs, dependents); len(cycle) > 0 {
		return res, NewValidationError(
			fmt.Sprintf("Detected %s helper dependency cycle: %s", descs[index[cycle[0]]].Kind, formatCycle(cycle)),
			nil,
		).WithCode(ErrCodeDependencyCycle).WithDetail("cycle", cycle)
	}

	order := stableTopologicalOrder(dependents, inDegree)
	res.Order = make([]H, 0, len(order))
	for _, i := range order {
		res.Order = append(res.Order, helpers[i])
	}
	return res, nil
}

// stableTopologicalOrder runs Kahn's algorithm, always picking the ready helper
// with the lowest registration index.
func stableTopologicalOrder(dependents [][]int, inDegree []int) []int {
	remaining := make([]int, len(inDegree))
	copy(remaining, inDegree)

	ready := make([]int, 0)
	for i, degree := range remaining {
		if degree == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]int, 0, len(remaining))
	for len(ready) > 0 {
		sort.Ints(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, dependent := range dependents[next] {
			remaining[dependent]--
			if remaining[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}
	return order
}

// findCycle uses depth-first search with a recursion stack and returns the first
// cycle found as a key path that starts and ends with the same key.
func findCycle(descs []HelperDescriptor, dependents [][]int) []string {
	visited := make([]bool, len(descs))
	onStack := make([]bool, len(descs))
	path := make([]int, 0, len(descs))

	var visit func(int) []string
	visit = func(node int) []string {
		visited[node] = true
		onStack[node] = true
		path = append(path, node)

		for _, next := range dependents[node] {
			if !visited[next] {
				if cycle := visit(next); cycle != nil {
					return cycle
				}
				continue
			}
			if !onStack[next] {
				continue
			}
			start := 0
			for i, id := range path {
				if id == next {
					start = i
					break
				}
			}
			cycle := make([]string, 0, len(path)-start+1)
			for _, id := range path[start:] {
				cycle = append(cycle, descs[id].Key)
			}
			return append(cycle, descs[next].Key)
		}

		onStack[node] = false
		path = path[:len(path)-1]
		return nil
	}

	for i := range descs {
		if !visited[i] {
			if cycle := visit(i); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// blockedHelpers returns the broken helpers plus everything that transitively depends on them.
func blockedHelpers(descs []HelperDescriptor, dependents [][]int, broken []int) []string {
	blocked := make([]bool, len(descs))
	queue := append([]int(nil), broken...)
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if blocked[node] {
			continue
		}
		blocked[node] = true
		queue = append(queue, dependents[node]...)
	}

	keys := make([]string, 0)
	for i, isBlocked := range blocked {
		if isBlocked {
			keys = append(keys, descs[i].Key)
		}
	}
	return keys
}

// newMissingDependencyError aggregates every unresolved dependency into one error.
func newMissingDependencyError(missing []MissingDependency) *KernelError {
	parts := make([]string, 0, len(missing))
	for _, m := range missing {
		deps := make([]string, 0, len(m.Dependencies))
		for _, dep := range m.Dependencies {
			deps = append(deps, fmt.Sprintf("%q", dep))
		}
		parts = append(parts, fmt.Sprintf("%q → [%s]", m.Key, strings.Join(deps, ", ")))
	}

	return NewValidationError(
		"Helpers depend on unknown helpers: "+strings.Join(parts, ", "),
		nil,
	).WithCode(ErrCodeMissingDependency).WithDetail("missing", missing)
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	return strings.Join(cycle, " → ")
}
