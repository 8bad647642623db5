package graph

import (
	"errors"
	"testing"

	"github.com/zphelps/jarvis/internal/models"
)

func dep(task, on string) models.Dependency {
	return models.Dependency{TaskID: task, DependsOn: on}
}

func TestWouldCycle(t *testing.T) {
	tests := []struct {
		name      string
		edges     []models.Dependency
		task, on  string
		wantCycle bool
	}{
		{"empty graph", nil, "a", "b", false},
		{"self edge", nil, "a", "a", true},
		{"direct back edge", []models.Dependency{dep("a", "b")}, "b", "a", true},
		{"transitive back edge", []models.Dependency{dep("a", "b"), dep("b", "c")}, "c", "a", true},
		{"diamond is fine", []models.Dependency{dep("a", "b"), dep("a", "c")}, "b", "d", false},
		{"parallel chain", []models.Dependency{dep("a", "b"), dep("c", "d")}, "b", "c", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WouldCycle(tt.edges, tt.task, tt.on); got != tt.wantCycle {
				t.Errorf("WouldCycle(%s -> %s) = %v, want %v", tt.task, tt.on, got, tt.wantCycle)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	ok := []models.Dependency{dep("a", "b"), dep("a", "c"), dep("b", "d"), dep("c", "d")}
	if err := Validate(ok); err != nil {
		t.Errorf("diamond should validate, got %v", err)
	}

	if err := Validate([]models.Dependency{dep("a", "a")}); !errors.Is(err, ErrSelfDependency) {
		t.Errorf("expected ErrSelfDependency, got %v", err)
	}

	cyc := []models.Dependency{dep("a", "b"), dep("b", "c"), dep("c", "a")}
	if err := Validate(cyc); !errors.Is(err, ErrCycleDetected) {
		t.Errorf("expected ErrCycleDetected, got %v", err)
	}
}
