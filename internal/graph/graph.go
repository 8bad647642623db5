// Package graph validates task dependency edges. Dependencies form a DAG;
// every insertion is checked so a cycle can never reach the database.
package graph

import (
	"errors"
	"fmt"

	"github.com/zphelps/jarvis/internal/models"
)

var (
	ErrSelfDependency = errors.New("task cannot depend on itself")
	ErrCycleDetected  = errors.New("dependency cycle detected")
)

// WouldCycle reports whether adding taskID -> dependsOn to the existing edge
// set creates a cycle. Self edges always cycle.
func WouldCycle(edges []models.Dependency, taskID, dependsOn string) bool {
	if taskID == dependsOn {
		return true
	}

	adj := make(map[string][]string, len(edges)+1)
	for _, e := range edges {
		adj[e.TaskID] = append(adj[e.TaskID], e.DependsOn)
	}
	adj[taskID] = append(adj[taskID], dependsOn)

	// A cycle through the new edge must pass through taskID, so a reachability
	// walk from dependsOn suffices.
	seen := map[string]bool{}
	stack := []string{dependsOn}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == taskID {
			return true
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, adj[n]...)
	}
	return false
}

// Validate checks a whole edge set for self edges and cycles, using
// three-color depth-first search.
func Validate(edges []models.Dependency) error {
	adj := make(map[string][]string, len(edges))
	for _, e := range edges {
		if e.TaskID == e.DependsOn {
			return fmt.Errorf("%w: %s", ErrSelfDependency, e.TaskID)
		}
		adj[e.TaskID] = append(adj[e.TaskID], e.DependsOn)
	}

	const (
		white = 0 // unvisited
		gray  = 1 // on the current path
		black = 2 // fully explored
	)
	color := make(map[string]int, len(adj))

	var visit func(string) error
	visit = func(n string) error {
		color[n] = gray
		for _, m := range adj[n] {
			switch color[m] {
			case gray:
				return fmt.Errorf("%w: involving %s", ErrCycleDetected, m)
			case white:
				if err := visit(m); err != nil {
					return err
				}
			}
		}
		color[n] = black
		return nil
	}

	for n := range adj {
		if color[n] == white {
			if err := visit(n); err != nil {
				return err
			}
		}
	}
	return nil
}
