package billing

import (
	"errors"
	"fmt"
	"strings"
)

// PriceConfig maps every sellable (plan, cycle) pair to its Stripe price
// id. All six are required so a deployment with a missing price fails at
// startup rather than on a customer's checkout attempt.
type PriceConfig struct {
	StandardMonthly string `env:"STRIPE_PRICE_STANDARD_MONTHLY,required"`
	StandardYearly  string `env:"STRIPE_PRICE_STANDARD_YEARLY,required"`
	FamilyMonthly   string `env:"STRIPE_PRICE_FAMILY_MONTHLY,required"`
	FamilyYearly    string `env:"STRIPE_PRICE_FAMILY_YEARLY,required"`
	LegacyMonthly   string `env:"STRIPE_PRICE_LEGACY_MONTHLY,required"`
	LegacyYearly    string `env:"STRIPE_PRICE_LEGACY_YEARLY,required"`
}

type planKey struct {
	plan  PlanName
	cycle BillingCycle
}

// Catalog resolves plan selections to Stripe price ids and back. It is
// immutable after construction and safe for concurrent use.
type Catalog struct {
	prices map[planKey]string
	byID   map[string]planKey
}

// NewCatalog builds the catalog from price configuration. Duplicate price
// ids across pairs are rejected because reverse lookup would be ambiguous.
func NewCatalog(cfg PriceConfig) (*Catalog, error) {
	entries := map[planKey]string{
		{PlanStandard, CycleMonthly}: cfg.StandardMonthly,
		{PlanStandard, CycleYearly}:  cfg.StandardYearly,
		{PlanFamily, CycleMonthly}:   cfg.FamilyMonthly,
		{PlanFamily, CycleYearly}:    cfg.FamilyYearly,
		{PlanLegacy, CycleMonthly}:   cfg.LegacyMonthly,
		{PlanLegacy, CycleYearly}:    cfg.LegacyYearly,
	}

	byID := make(map[string]planKey, len(entries))
	for key, priceID := range entries {
		if priceID == "" {
			return nil, fmt.Errorf("empty price id for %s/%s", key.plan, key.cycle)
		}
		if dup, ok := byID[priceID]; ok {
			return nil, fmt.Errorf("price id %s assigned to both %s/%s and %s/%s",
				priceID, dup.plan, dup.cycle, key.plan, key.cycle)
		}
		byID[priceID] = key
	}

	return &Catalog{prices: entries, byID: byID}, nil
}

// Resolve maps a plan selection to its Stripe price id. Unknown plans or
// cycles fail with ErrInvalidPlanSelection before any external call is
// made.
func (c *Catalog) Resolve(plan PlanName, cycle BillingCycle) (string, error) {
	priceID, ok := c.prices[planKey{plan: plan, cycle: cycle}]
	if !ok {
		return "", errors.Join(ErrInvalidPlanSelection,
			fmt.Errorf("no price for plan %q with cycle %q", plan, cycle))
	}
	return priceID, nil
}

// PlanForPrice performs the reverse lookup for reconciliation and display.
func (c *Catalog) PlanForPrice(priceID string) (PlanName, BillingCycle, bool) {
	key, ok := c.byID[priceID]
	if !ok {
		return "", "", false
	}
	return key.plan, key.cycle, true
}

// ParsePlan validates a client-supplied plan name. Matching is
// case-insensitive ("Standard" and "standard" name the same tier); the
// canonical lowercase form is what gets stored.
func ParsePlan(s string) (PlanName, error) {
	switch p := PlanName(strings.ToLower(s)); p {
	case PlanStandard, PlanFamily, PlanLegacy:
		return p, nil
	default:
		return "", errors.Join(ErrInvalidPlanSelection, fmt.Errorf("unknown plan %q", s))
	}
}

// ParseBillingCycle validates a client-supplied billing cycle,
// case-insensitively.
func ParseBillingCycle(s string) (BillingCycle, error) {
	switch c := BillingCycle(strings.ToLower(s)); c {
	case CycleMonthly, CycleYearly:
		return c, nil
	default:
		return "", errors.Join(ErrInvalidBillingCycle, fmt.Errorf("unknown billing cycle %q", s))
	}
}
