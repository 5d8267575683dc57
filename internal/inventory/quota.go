package inventory

import (
	"context"
	"errors"
	"fmt"
)

// ResourceInventoryItems is the metered resource for stored items
const ResourceInventoryItems = "inventory_items"

// Unlimited is the allowance reported when a plan has no limit
const Unlimited = -1

// ErrUnknownPlan is returned for a plan name that is not offered
var ErrUnknownPlan = errors.New("unknown plan")

// Plan is a subscription tier
type Plan string

// Offered plans
const (
	PlanFree         Plan = "free"
	PlanProfessional Plan = "professional"
	PlanPower        Plan = "power"
)

var planLimits = map[Plan]map[string]int{
	PlanFree:         {ResourceInventoryItems: 50},
	PlanProfessional: {ResourceInventoryItems: 1000},
	PlanPower:        {ResourceInventoryItems: Unlimited},
}

// Limit returns the plan's cap on resource, or Unlimited
func (p Plan) Limit(resource string) (int, error) {
	limits, ok := planLimits[p]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPlan, string(p))
	}
	limit, ok := limits[resource]
	if !ok {
		return Unlimited, nil
	}
	return limit, nil
}

// ParsePlan validates a plan name
func ParsePlan(name string) (Plan, error) {
	p := Plan(name)
	if _, ok := planLimits[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPlan, name)
	}
	return p, nil
}

// Quota reports how many more of a resource an owner may create
type Quota interface {
	// RemainingAllowance returns the remaining count, or -1 for unlimited
	RemainingAllowance(ctx context.Context, ownerKey, resource string) (int, error)
}

// PlanStore looks up and records owner plans
type PlanStore interface {
	GetPlan(ctx context.Context, ownerKey string) (Plan, error)
	SetPlan(ctx context.Context, ownerKey string, plan Plan) error
}

// ItemCounter counts an owner's stored items
type ItemCounter interface {
	CountItems(ctx context.Context, ownerKey string) (int, error)
}

// PlanQuota derives allowances from the owner's plan and current usage
type PlanQuota struct {
	plans PlanStore
	items ItemCounter
}

// NewPlanQuota creates a PlanQuota
func NewPlanQuota(plans PlanStore, items ItemCounter) *PlanQuota {
	return &PlanQuota{plans: plans, items: items}
}

// RemainingAllowance implements Quota. Owners with a stored plan that is no
// longer offered fall back to the free plan.
func (q *PlanQuota) RemainingAllowance(ctx context.Context, ownerKey, resource string) (int, error) {
	plan, err := q.plans.GetPlan(ctx, ownerKey)
	if err != nil {
		return 0, fmt.Errorf("getting plan: %w", err)
	}

	limit, err := plan.Limit(resource)
	if errors.Is(err, ErrUnknownPlan) {
		limit, err = PlanFree.Limit(resource)
	}
	if err != nil {
		return 0, err
	}
	if limit == Unlimited {
		return Unlimited, nil
	}

	if resource != ResourceInventoryItems {
		return limit, nil
	}
	used, err := q.items.CountItems(ctx, ownerKey)
	if err != nil {
		return 0, fmt.Errorf("counting items: %w", err)
	}
	return max(limit-used, 0), nil
}
