package engine

import (
	"errors"
	"strings"
	"testing"
)

type testNode HelperDescriptor

func (n testNode) Describe() HelperDescriptor { return HelperDescriptor(n) }

func node(key string, deps ...string) testNode {
	return testNode{Key: key, Kind: HelperKindFragment, Mode: HelperModeExtend, DependsOn: deps}
}

func orderKeys(res *Resolution[testNode]) []string {
	keys := make([]string, 0, len(res.Order))
	for _, n := range res.Order {
		keys = append(keys, n.Key)
	}
	return keys
}

func TestResolveHelpers_Empty(t *testing.T) {
	res, err := ResolveHelpers([]testNode{}, ResolveOptions{})
	if err != nil {
		t.Fatalf("Expected no error for empty helpers, got: %v", err)
	}
	if len(res.Order) != 0 {
		t.Errorf("Expected empty order, got %v", orderKeys(res))
	}
	if len(res.Diagnostics) != 0 {
		t.Errorf("Expected no diagnostics, got %d", len(res.Diagnostics))
	}
}

func TestResolveHelpers_StableOrder(t *testing.T) {
	helpers := []testNode{
		node("a"),
		node("b", "c"),
		node("c"),
		node("d"),
	}

	res, err := ResolveHelpers(helpers, ResolveOptions{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	got := strings.Join(orderKeys(res), ",")
	if got != "a,c,b,d" {
		t.Errorf("Expected order a,c,b,d, got %s", got)
	}
}

func TestResolveHelpers_DependenciesPrecedeDependents(t *testing.T) {
	helpers := []testNode{
		node("render", "routes", "schemas"),
		node("routes", "resources"),
		node("resources", "meta", "schemas"),
		node("schemas", "meta"),
		node("meta"),
		node("blocks", "resources"),
	}

	res, err := ResolveHelpers(helpers, ResolveOptions{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	position := make(map[string]int)
	for i, key := range orderKeys(res) {
		position[key] = i
	}
	if len(position) != len(helpers) {
		t.Fatalf("Expected %d helpers in order, got %d", len(helpers), len(position))
	}
	for _, h := range helpers {
		for _, dep := range h.DependsOn {
			if position[dep] >= position[h.Key] {
				t.Errorf("%s at %d should run after %s at %d", h.Key, position[h.Key], dep, position[dep])
			}
		}
	}
}

func TestResolveHelpers_MissingDependencies(t *testing.T) {
	helpers := []testNode{
		node("a"),
		node("b", "x", "y"),
		node("c", "b"),
		node("d", "z"),
	}

	res, err := ResolveHelpers(helpers, ResolveOptions{})
	if err == nil {
		t.Fatal("Expected error for missing dependencies")
	}
	if !IsValidation(err) {
		t.Errorf("Expected validation error, got %T", err)
	}

	want := `Helpers depend on unknown helpers: "b" → ["x", "y"], "d" → ["z"]`
	if err.Error() != want {
		t.Errorf("Unexpected message:\n got: %s\nwant: %s", err.Error(), want)
	}

	if len(res.Diagnostics) != 3 {
		t.Fatalf("Expected 3 diagnostics, got %d", len(res.Diagnostics))
	}
	first := res.Diagnostics[0]
	if first.Type != DiagnosticMissingDependency || first.Key != "b" || first.Dependency != "x" {
		t.Errorf("Unexpected first diagnostic: %+v", first)
	}

	blocked := strings.Join(res.Blocked, ",")
	if blocked != "b,c,d" {
		t.Errorf("Expected b,c,d to be blocked, got %s", blocked)
	}
	if len(res.Order) != 0 {
		t.Errorf("Expected no execution order, got %v", orderKeys(res))
	}
}

func TestResolveHelpers_UpstreamKeysSatisfyDependencies(t *testing.T) {
	helpers := []testNode{
		{Key: "builder.ts", Kind: HelperKindBuilder, DependsOn: []string{"ir.resources"}},
	}

	_, err := ResolveHelpers(helpers, ResolveOptions{Upstream: []string{"ir.resources"}})
	if err != nil {
		t.Fatalf("Expected upstream key to satisfy dependency, got: %v", err)
	}
}

func TestResolveHelpers_CycleIsFatal(t *testing.T) {
	helpers := []testNode{
		node("a", "b"),
		node("b", "a"),
		node("c"),
	}

	_, err := ResolveHelpers(helpers, ResolveOptions{})
	if err == nil {
		t.Fatal("Expected error for cycle")
	}

	var kerr *KernelError
	if !errors.As(err, &kerr) {
		t.Fatalf("Expected KernelError, got %T", err)
	}
	if kerr.Code != ErrCodeDependencyCycle {
		t.Errorf("Expected code %s, got %s", ErrCodeDependencyCycle, kerr.Code)
	}
	if !strings.Contains(err.Error(), "a → b → a") {
		t.Errorf("Expected cycle path in message, got: %s", err.Error())
	}
}

func TestResolveHelpers_SelfDependencyIsCycle(t *testing.T) {
	_, err := ResolveHelpers([]testNode{node("a", "a")}, ResolveOptions{})
	if err == nil || !strings.Contains(err.Error(), "a → a") {
		t.Fatalf("Expected self cycle error, got: %v", err)
	}
}

func TestResolveHelpers_UnusedHelpers(t *testing.T) {
	helpers := []testNode{
		node("meta"),
		node("resources", "meta"),
		node("orphan"),
		node("validate", "resources"),
		node("used-later"),
	}

	res, err := ResolveHelpers(helpers, ResolveOptions{
		EntryKeys:          []string{"validate"},
		ExternalReferences: []string{"used-later"},
	})
	if err != nil {
		t.Fatalf("Unused helpers must not fail resolution, got: %v", err)
	}

	if len(res.Diagnostics) != 1 {
		t.Fatalf("Expected 1 diagnostic, got %d: %+v", len(res.Diagnostics), res.Diagnostics)
	}
	if res.Diagnostics[0].Type != DiagnosticUnusedHelper || res.Diagnostics[0].Key != "orphan" {
		t.Errorf("Expected unused-helper for orphan, got %+v", res.Diagnostics[0])
	}
	if len(res.Order) != len(helpers) {
		t.Errorf("Unused helpers still run, expected %d in order, got %d", len(helpers), len(res.Order))
	}
}

func TestResolveHelpers_NoEntryKeysDisablesUnusedDetection(t *testing.T) {
	res, err := ResolveHelpers([]testNode{node("a"), node("b")}, ResolveOptions{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(res.Diagnostics) != 0 {
		t.Errorf("Expected no diagnostics, got %+v", res.Diagnostics)
	}
}
