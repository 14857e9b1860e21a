package usecase

import (
	"fmt"

	"telegram-subscription-billing/internal/config"
	"telegram-subscription-billing/internal/domain"
	"telegram-subscription-billing/internal/domain/model"
)

// Catalog resolves plan codes to priced plans from configuration.
type Catalog struct {
	plans       map[model.PlanCode]model.Plan
	trialAmount string
}

func NewCatalog(cfg *config.BillingConfig) (*Catalog, error) {
	plans := make(map[model.PlanCode]model.Plan, len(cfg.Tariffs))
	for raw, t := range cfg.Tariffs {
		code := model.PlanCode(raw)
		if !code.Valid() {
			return nil, fmt.Errorf("unknown plan code %q in tariffs", raw)
		}
		if t.AmountValue == "" || t.AmountCurrency == "" {
			return nil, fmt.Errorf("tariff %q: amount value and currency required", raw)
		}
		plans[code] = model.Plan{
			Code:   code,
			Months: code.Months(),
			Price:  model.Amount{Value: t.AmountValue, Currency: t.AmountCurrency},
		}
	}
	if len(plans) == 0 {
		return nil, fmt.Errorf("no tariffs configured")
	}
	return &Catalog{plans: plans, trialAmount: cfg.TrialAmountValue}, nil
}

func (c *Catalog) Plan(code model.PlanCode) (model.Plan, error) {
	p, ok := c.plans[code]
	if !ok {
		return model.Plan{}, fmt.Errorf("%w: plan %q not in catalog", domain.ErrInvalidArgument, code)
	}
	return p, nil
}

// TrialAmount is the tokenization charge for the trial checkout, in the
// plan's currency.
func (c *Catalog) TrialAmount(code model.PlanCode) (model.Amount, error) {
	p, err := c.Plan(code)
	if err != nil {
		return model.Amount{}, err
	}
	return model.Amount{Value: c.trialAmount, Currency: p.Price.Currency}, nil
}

// Codes lists configured plans in interval order.
func (c *Catalog) Codes() []model.PlanCode {
	out := make([]model.PlanCode, 0, len(c.plans))
	for _, code := range []model.PlanCode{model.PlanMonthly, model.PlanQuarterly, model.PlanSemiAnnual, model.PlanAnnual} {
		if _, ok := c.plans[code]; ok {
			out = append(out, code)
		}
	}
	return out
}
