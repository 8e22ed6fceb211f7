// Package constraint implements the first pipeline gate: validating a plan
// against the configured set of real-world constraints.
package constraint

import (
	"fmt"
	"sort"

	"github.com/xkilldash9x/tether-cli/api/schemas"
	"github.com/xkilldash9x/tether-cli/internal/config"
)

// Validator evaluates plans against a fixed constraint set. The set is
// supplied at construction and never mutated; Validate is a pure function
// of its inputs.
type Validator struct {
	constraints []schemas.Constraint
}

// New creates a Validator over an explicit constraint set.
func New(constraints []schemas.Constraint) *Validator {
	cs := make([]schemas.Constraint, len(constraints))
	copy(cs, constraints)
	return &Validator{constraints: cs}
}

// FromConfig builds the default constraint set from configuration. The time
// constraint may be marked soft; budget and permission limits are always hard.
func FromConfig(cfg config.ConstraintsConfig) []schemas.Constraint {
	constraints := []schemas.Constraint{
		{
			Kind:        schemas.ConstraintTime,
			Limit:       float64(cfg.TimeLimit),
			Hard:        !cfg.SoftTimeLimit,
			Description: "maximum estimated execution time in seconds",
		},
		{
			Kind:        schemas.ConstraintBudget,
			Limit:       cfg.Budget,
			Hard:        true,
			Description: "maximum estimated cost in currency units",
		},
		{
			Kind:        schemas.ConstraintPermission,
			Tags:        cfg.Permissions,
			Hard:        true,
			Description: "set of permissions plans may require",
		},
	}
	if len(cfg.RegulationTags) > 0 {
		constraints = append(constraints, schemas.Constraint{
			Kind:        schemas.ConstraintRegulation,
			Tags:        cfg.RegulationTags,
			Hard:        true,
			Description: "metadata tags that must be set truthy on every plan",
		})
	}
	return constraints
}

// Validate checks the plan against every configured constraint. A hard
// violation forces Valid=false; soft violations are listed but do not by
// themselves invalidate the plan.
func (v *Validator) Validate(plan schemas.Plan) schemas.ValidationResult {
	result := schemas.ValidationResult{Valid: true}

	for _, c := range v.constraints {
		var violation *schemas.ConstraintViolation
		switch c.Kind {
		case schemas.ConstraintTime:
			violation = checkTime(plan, c)
		case schemas.ConstraintBudget:
			violation = checkBudget(plan, c)
		case schemas.ConstraintPermission:
			violation = checkPermissions(plan, c)
		case schemas.ConstraintRegulation:
			violation = checkRegulations(plan, c)
		}
		if violation == nil {
			continue
		}
		result.Violations = append(result.Violations, *violation)
		if violation.Hard {
			result.Valid = false
		}
		if s := suggestion(plan, c); s != "" {
			result.Suggestions = append(result.Suggestions, s)
		}
	}

	return result
}

func checkTime(plan schemas.Plan, c schemas.Constraint) *schemas.ConstraintViolation {
	limit := int64(c.Limit)
	if plan.EstimatedTime <= limit {
		return nil
	}
	return &schemas.ConstraintViolation{
		Kind:    schemas.ConstraintTime,
		Value:   fmt.Sprintf("%ds", plan.EstimatedTime),
		Limit:   fmt.Sprintf("%ds", limit),
		Hard:    c.Hard,
		Message: fmt.Sprintf("plan requires %ds but the time limit is %ds", plan.EstimatedTime, limit),
	}
}

func checkBudget(plan schemas.Plan, c schemas.Constraint) *schemas.ConstraintViolation {
	if plan.EstimatedCost <= c.Limit {
		return nil
	}
	return &schemas.ConstraintViolation{
		Kind:    schemas.ConstraintBudget,
		Value:   fmt.Sprintf("%.2f", plan.EstimatedCost),
		Limit:   fmt.Sprintf("%.2f", c.Limit),
		Hard:    c.Hard,
		Message: fmt.Sprintf("plan costs %.2f but the budget is %.2f", plan.EstimatedCost, c.Limit),
	}
}

func checkPermissions(plan schemas.Plan, c schemas.Constraint) *schemas.ConstraintViolation {
	allowed := make(map[string]struct{}, len(c.Tags))
	for _, p := range c.Tags {
		allowed[p] = struct{}{}
	}
	var missing []string
	for _, p := range plan.RequiredPermissions {
		if _, ok := allowed[p]; !ok {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return &schemas.ConstraintViolation{
		Kind:    schemas.ConstraintPermission,
		Value:   fmt.Sprintf("%v", missing),
		Limit:   fmt.Sprintf("%v", c.Tags),
		Hard:    c.Hard,
		Message: fmt.Sprintf("plan requires permissions %v which are not in the allowed set %v", missing, c.Tags),
	}
}

// checkRegulations verifies that every configured regulation tag is present
// and truthy in the plan's metadata. The tag check is deliberately an opaque
// boolean; regulations are declared satisfied by whoever authored the plan.
func checkRegulations(plan schemas.Plan, c schemas.Constraint) *schemas.ConstraintViolation {
	var unsatisfied []string
	for _, tag := range c.Tags {
		if !metadataTagSet(plan.Metadata, tag) {
			unsatisfied = append(unsatisfied, tag)
		}
	}
	if len(unsatisfied) == 0 {
		return nil
	}
	sort.Strings(unsatisfied)
	return &schemas.ConstraintViolation{
		Kind:    schemas.ConstraintRegulation,
		Value:   fmt.Sprintf("%v", unsatisfied),
		Limit:   fmt.Sprintf("%v", c.Tags),
		Hard:    c.Hard,
		Message: fmt.Sprintf("plan does not satisfy regulation tags %v", unsatisfied),
	}
}

func metadataTagSet(metadata map[string]any, tag string) bool {
	if metadata == nil {
		return false
	}
	val, ok := metadata[tag]
	if !ok {
		return false
	}
	switch v := val.(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "yes"
	default:
		return false
	}
}

// suggestion produces advisory text naming the smallest change that would
// clear the constraint. It never transforms the plan.
func suggestion(plan schemas.Plan, c schemas.Constraint) string {
	switch c.Kind {
	case schemas.ConstraintTime:
		delta := plan.EstimatedTime - int64(c.Limit)
		if delta <= 0 {
			return ""
		}
		return fmt.Sprintf("reduce estimated_time by at least %ds to meet the %ds limit, or parallelize long-running steps", delta, int64(c.Limit))
	case schemas.ConstraintBudget:
		delta := plan.EstimatedCost - c.Limit
		if delta <= 0 {
			return ""
		}
		return fmt.Sprintf("reduce estimated_cost by at least %.2f to meet the %.2f budget, or use cheaper tool tiers", delta, c.Limit)
	case schemas.ConstraintPermission:
		return "request the missing permissions or rework steps to avoid them"
	case schemas.ConstraintRegulation:
		return "declare the required regulation tags in plan metadata once the obligations are met"
	}
	return ""
}
