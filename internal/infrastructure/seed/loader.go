// Package seed loads the organisation directory and approval rules from a
// YAML file into the database.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/garyjia/expense-agent/internal/application/port"
	"github.com/garyjia/expense-agent/internal/domain/entity"
	"github.com/garyjia/expense-agent/internal/routing"
	"github.com/garyjia/expense-agent/pkg/utils"
)

// ErrReportingCycle is returned when reports_to links form a loop
var ErrReportingCycle = errors.New("reporting hierarchy contains a cycle")

// Rule is an approval rule as written in the seed file. Active defaults to true.
type Rule struct {
	entity.ApprovalRule `yaml:",inline"`
	Active              *bool `yaml:"active"`
}

// Dataset is the parsed content of a seed file
type Dataset struct {
	Employees []*entity.Employee `yaml:"employees" validate:"dive"`
	Rules     []*Rule            `yaml:"approval_rules" validate:"dive"`
}

// Result counts what was written
type Result struct {
	Employees int `json:"employees"`
	Rules     int `json:"rules"`
}

// Parse decodes and validates seed data. Unknown keys are rejected.
func Parse(data []byte) (*Dataset, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var ds Dataset
	if err := dec.Decode(&ds); err != nil {
		return nil, fmt.Errorf("failed to decode seed data: %w", err)
	}
	if err := utils.ValidateStruct(&ds); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(ds.Employees))
	for _, e := range ds.Employees {
		if seen[e.EmployeeID] {
			return nil, fmt.Errorf("duplicate employee_id %s", e.EmployeeID)
		}
		seen[e.EmployeeID] = true
	}

	ruleIDs := make(map[int64]bool, len(ds.Rules))
	for _, r := range ds.Rules {
		if ruleIDs[r.ID] {
			return nil, fmt.Errorf("duplicate rule id %d", r.ID)
		}
		ruleIDs[r.ID] = true

		if r.ApprovalType == "" {
			r.ApprovalType = entity.ApprovalSequential
		}
		r.ApprovalRule.Active = r.Active == nil || *r.Active
		if r.Category != "" && !r.Category.IsValid() {
			return nil, fmt.Errorf("rule %d: unknown category %q", r.ID, r.Category)
		}
	}

	if cycle := routing.DetectCycle(ds.Employees); cycle != nil {
		return nil, fmt.Errorf("%w: %s", ErrReportingCycle, strings.Join(cycle, " -> "))
	}
	return &ds, nil
}

// Loader writes seed data through the repositories
type Loader struct {
	employees port.EmployeeRepository
	rules     port.ApprovalRuleRepository
	tx        port.TransactionManager
	logger    *zap.Logger
}

// NewLoader creates a seed loader
func NewLoader(employees port.EmployeeRepository, rules port.ApprovalRuleRepository, tx port.TransactionManager, logger *zap.Logger) *Loader {
	return &Loader{employees: employees, rules: rules, tx: tx, logger: logger}
}

// LoadFile parses path and applies it
func (l *Loader) LoadFile(ctx context.Context, path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read seed file: %w", err)
	}
	ds, err := Parse(data)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", path, err)
	}
	return l.Apply(ctx, ds)
}

// Apply upserts every employee and rule in one transaction. The merged
// directory (stored employees overlaid with the dataset) must stay acyclic.
func (l *Loader) Apply(ctx context.Context, ds *Dataset) (Result, error) {
	var res Result
	err := l.tx.WithTransaction(ctx, func(ctx context.Context) error {
		existing, err := l.employees.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list employees: %w", err)
		}
		if cycle := routing.DetectCycle(merge(existing, ds.Employees)); cycle != nil {
			return fmt.Errorf("%w: %s", ErrReportingCycle, strings.Join(cycle, " -> "))
		}

		for _, e := range ds.Employees {
			if err := l.employees.Upsert(ctx, e); err != nil {
				return fmt.Errorf("failed to upsert employee %s: %w", e.EmployeeID, err)
			}
			res.Employees++
		}
		for _, r := range ds.Rules {
			rule := r.ApprovalRule
			if err := l.rules.Upsert(ctx, &rule); err != nil {
				return fmt.Errorf("failed to upsert rule %d: %w", r.ID, err)
			}
			res.Rules++
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	l.logger.Info("Seed data applied",
		zap.Int("employees", res.Employees),
		zap.Int("rules", res.Rules))
	return res, nil
}

func merge(stored, seeded []*entity.Employee) []*entity.Employee {
	byID := make(map[string]*entity.Employee, len(stored)+len(seeded))
	order := make([]string, 0, len(stored)+len(seeded))
	for _, list := range [][]*entity.Employee{stored, seeded} {
		for _, e := range list {
			if _, ok := byID[e.EmployeeID]; !ok {
				order = append(order, e.EmployeeID)
			}
			byID[e.EmployeeID] = e
		}
	}
	out := make([]*entity.Employee, len(order))
	for i, id := range order {
		out[i] = byID[id]
	}
	return out
}
