package routing

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/expense-agent/internal/domain/entity"
)

// walkUp follows reports_to from the submitter until it meets one of the
// target roles. The walk stops at maxDepth hops, at a missing link or when
// it revisits an employee.
func (r *Resolver) walkUp(ctx context.Context, employeeID string, targets ...entity.Role) Approver {
	want := make(map[entity.Role]bool, len(targets))
	names := make([]string, len(targets))
	for i, t := range targets {
		want[t] = true
		names[i] = string(t)
	}
	placeholder := Approver{Name: fmt.Sprintf("Unresolved (%s)", strings.Join(names, "/"))}

	current, err := r.dir.GetByID(ctx, employeeID)
	if err != nil {
		r.logger.Warn("Hierarchy walk aborted", zap.String("employee_id", employeeID), zap.Error(err))
		return placeholder
	}

	visited := map[string]bool{employeeID: true}
	for hop := 0; hop < r.maxDepth; hop++ {
		next := current.ManagerID()
		if next == "" {
			break
		}
		if visited[next] {
			r.logger.Warn("Reporting cycle detected",
				zap.String("employee_id", employeeID),
				zap.String("revisited", next))
			break
		}
		visited[next] = true

		mgr, err := r.dir.GetByID(ctx, next)
		if err != nil {
			r.logger.Warn("Hierarchy walk aborted", zap.String("employee_id", next), zap.Error(err))
			break
		}
		if mgr == nil {
			break
		}
		if want[mgr.Role] {
			return approverOf(mgr)
		}
		current = mgr
	}

	return placeholder
}

// DetectCycle returns the first reporting cycle found in the directory, or
// nil when the reports_to graph is acyclic.
func DetectCycle(employees []*entity.Employee) []string {
	byID := make(map[string]*entity.Employee, len(employees))
	for _, e := range employees {
		byID[e.EmployeeID] = e
	}

	const (
		unseen = iota
		onPath
		done
	)
	state := make(map[string]int, len(employees))

	for _, start := range employees {
		if state[start.EmployeeID] != unseen {
			continue
		}
		var path []string
		id := start.EmployeeID
		for id != "" && state[id] == unseen {
			e, ok := byID[id]
			if !ok {
				// a manager outside the list ends the path
				id = ""
				break
			}
			state[id] = onPath
			path = append(path, id)
			id = e.ManagerID()
		}
		if id != "" && state[id] == onPath {
			for i, p := range path {
				if p == id {
					return append(path[i:], id)
				}
			}
		}
		for _, p := range path {
			state[p] = done
		}
	}
	return nil
}
