package planner

import "fmt"

// ValidateDependencyClosure checks that every DependsOn reference names an
// existing task and that the dependency graph is acyclic, per spec.md
// §4.7's "cycle-free dependency closure" requirement for sophisticated
// mode. The technique mirrors internal/graph's cycle check: DFS from each
// task along its dependency edges, looking for a path back to itself.
func ValidateDependencyClosure(tasks []TaskDescriptor) error {
	byID := make(map[string]TaskDescriptor, len(tasks))
	for _, t := range tasks {
		if _, dup := byID[t.ID]; dup {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		byID[t.ID] = t
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, ok := byID[dep]; !ok {
				return fmt.Errorf("task %q depends on unknown task %q", t.ID, dep)
			}
		}
	}

	state := make(map[string]int, len(tasks)) // 0=white, 1=gray, 2=black
	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case 1:
			return fmt.Errorf("dependency cycle detected at task %q", id)
		case 2:
			return nil
		}
		state[id] = 1
		for _, dep := range byID[id].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[id] = 2
		return nil
	}
	for _, t := range tasks {
		if err := visit(t.ID); err != nil {
			return err
		}
	}
	return nil
}

// GroupStages assigns each task a stage number: tasks with no unresolved
// dependency are stage 0, and a task's stage is one more than the highest
// stage among its dependencies. This is the same BFS-by-level technique
// internal/graph.GetExecutionPlan uses for the Workflow Graph, applied
// here to a Plan's static dependency list instead of a live Graph.
// Mutates tasks in place and also returns the grouping as [][]task_id.
func GroupStages(tasks []TaskDescriptor) [][]string {
	byID := make(map[string]*TaskDescriptor, len(tasks))
	for i := range tasks {
		byID[tasks[i].ID] = &tasks[i]
	}

	stageOf := make(map[string]int, len(tasks))
	var resolve func(id string) int
	resolving := make(map[string]bool)
	resolve = func(id string) int {
		if s, ok := stageOf[id]; ok {
			return s
		}
		if resolving[id] {
			// Cycle; ValidateDependencyClosure should have caught this
			// already, but don't infinite-loop if called standalone.
			return 0
		}
		resolving[id] = true
		max := -1
		for _, dep := range byID[id].DependsOn {
			if s := resolve(dep); s > max {
				max = s
			}
		}
		stage := max + 1
		stageOf[id] = stage
		resolving[id] = false
		return stage
	}

	var maxStage int
	for _, t := range tasks {
		s := resolve(t.ID)
		byID[t.ID].Stage = s
		if s > maxStage {
			maxStage = s
		}
	}

	levels := make([][]string, maxStage+1)
	for _, t := range tasks {
		s := stageOf[t.ID]
		levels[s] = append(levels[s], t.ID)
	}
	return levels
}

// ComputeCriticalPath returns the longest weighted chain of dependent
// tasks, the sophisticated-mode signal the Orchestrator uses to reason
// about a plan's minimum completion time. Tasks with an unset Weight are
// treated as weight 1. Assumes the dependency graph is already validated
// acyclic (call ValidateDependencyClosure first).
func ComputeCriticalPath(tasks []TaskDescriptor) []string {
	byID := make(map[string]*TaskDescriptor, len(tasks))
	for i := range tasks {
		byID[tasks[i].ID] = &tasks[i]
	}

	longest := make(map[string]float64, len(tasks))
	prev := make(map[string]string, len(tasks))
	var weightOf func(t *TaskDescriptor) float64
	weightOf = func(t *TaskDescriptor) float64 {
		if t.Weight > 0 {
			return t.Weight
		}
		return 1
	}

	var dist func(id string) float64
	visited := make(map[string]bool)
	dist = func(id string) float64 {
		if d, ok := longest[id]; ok {
			return d
		}
		if visited[id] {
			return 0
		}
		visited[id] = true
		t := byID[id]
		best := 0.0
		bestDep := ""
		for _, dep := range t.DependsOn {
			d := dist(dep)
			if d > best {
				best = d
				bestDep = dep
			}
		}
		total := best + weightOf(t)
		longest[id] = total
		if bestDep != "" {
			prev[id] = bestDep
		}
		return total
	}

	var endID string
	var endDist float64
	for _, t := range tasks {
		d := dist(t.ID)
		if d >= endDist {
			endDist = d
			endID = t.ID
		}
	}
	if endID == "" {
		return nil
	}

	var path []string
	for id := endID; id != ""; id = prev[id] {
		path = append([]string{id}, path...)
	}
	return path
}
