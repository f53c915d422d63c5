package subscription

// PriceIDs configures which Stripe price backs each purchasable item.
type PriceIDs struct {
	Starter     string
	Pro         string
	Enterprise  string
	TopupSmall  string
	TopupMedium string
	TopupLarge  string
}

type Catalog struct {
	plans  []PlanSpec
	topups []Topup
}

func NewCatalog(prices PriceIDs) *Catalog {
	return &Catalog{
		plans: []PlanSpec{
			{ID: PlanFree, Name: "Free", MonthlyCredits: 0},
			{ID: PlanStarter, Name: "Starter", MonthlyCredits: 100, PriceID: prices.Starter},
			{ID: PlanPro, Name: "Pro", MonthlyCredits: 300, PriceID: prices.Pro},
			{ID: PlanEnterprise, Name: "Enterprise", MonthlyCredits: 1000, PriceID: prices.Enterprise},
		},
		topups: []Topup{
			{ID: "small", Name: "50 credits", Credits: 50, PriceID: prices.TopupSmall},
			{ID: "medium", Name: "150 credits", Credits: 150, PriceID: prices.TopupMedium},
			{ID: "large", Name: "500 credits", Credits: 500, PriceID: prices.TopupLarge},
		},
	}
}

func (c *Catalog) Plan(id Plan) (PlanSpec, bool) {
	for _, p := range c.plans {
		if p.ID == id {
			return p, true
		}
	}
	return PlanSpec{}, false
}

// PlanByPriceID resolves a Stripe price id to a plan. Empty ids never match.
func (c *Catalog) PlanByPriceID(priceID string) (PlanSpec, bool) {
	if priceID == "" {
		return PlanSpec{}, false
	}
	for _, p := range c.plans {
		if p.PriceID == priceID {
			return p, true
		}
	}
	return PlanSpec{}, false
}

func (c *Catalog) Topup(id string) (Topup, bool) {
	for _, t := range c.topups {
		if t.ID == id {
			return t, true
		}
	}
	return Topup{}, false
}

func (c *Catalog) Plans() []PlanSpec {
	return append([]PlanSpec(nil), c.plans...)
}

func (c *Catalog) Topups() []Topup {
	return append([]Topup(nil), c.topups...)
}
