package plans

import (
	"errors"
	"sort"
	"strings"
)

// Plan identifiers.
const (
	Free             = "free"
	LoveSpark        = "love-spark"
	RomanticDate     = "romantic-date"
	TrueLove         = "true-love"
	ForeverValentine = "forever-valentine"
)

const currencyINR = "INR"

// ErrUnknownPlan is returned when a plan id is not in the catalog.
var ErrUnknownPlan = errors.New("unknown plan")

// Catalog maps plan ids (and their tier aliases) to plans.
type Catalog struct {
	plans   map[string]Plan
	aliases map[string]string
}

// NewCatalog builds a catalog from plans and alias->id pairs.
func NewCatalog(list []Plan, aliases map[string]string) *Catalog {
	c := &Catalog{
		plans:   make(map[string]Plan, len(list)),
		aliases: make(map[string]string, len(aliases)),
	}
	for _, p := range list {
		c.plans[p.ID] = p
	}
	for alias, id := range aliases {
		c.aliases[normalize(alias)] = id
	}
	return c
}

var defaultCatalog = NewCatalog([]Plan{
	{ID: Free, Name: "Free", MaxCreations: Limit(1), MaxEditsPerItem: Limit(3), Currency: currencyINR},
	{ID: LoveSpark, Name: "Love Spark", MaxCreations: Limit(5), MaxEditsPerItem: Limit(5), PriceMinor: 9900, Currency: currencyINR},
	{ID: RomanticDate, Name: "Romantic Date", MaxCreations: Limit(20), MaxEditsPerItem: Limit(10), PriceMinor: 19900, Currency: currencyINR},
	{ID: TrueLove, Name: "True Love", MaxCreations: Limit(50), MaxEditsPerItem: Limit(25), PriceMinor: 49900, Currency: currencyINR},
	{ID: ForeverValentine, Name: "Forever Valentine", MaxCreations: Unbounded(), MaxEditsPerItem: Unbounded(), PriceMinor: 99900, Currency: currencyINR},
}, map[string]string{
	"tier-1":    LoveSpark,
	"tier-2":    RomanticDate,
	"tier-3":    TrueLove,
	"unlimited": ForeverValentine,
	"unbounded": ForeverValentine,
})

// Default returns the built-in product catalog.
func Default() *Catalog {
	return defaultCatalog
}

// Lookup resolves a plan id or alias.
func (c *Catalog) Lookup(id string) (Plan, bool) {
	if c == nil {
		return Plan{}, false
	}
	key := normalize(id)
	if p, ok := c.plans[key]; ok {
		return p, true
	}
	if target, ok := c.aliases[key]; ok {
		p, ok := c.plans[target]
		return p, ok
	}
	return Plan{}, false
}

// Resolve is Lookup returning ErrUnknownPlan on a miss.
func (c *Catalog) Resolve(id string) (Plan, error) {
	p, ok := c.Lookup(id)
	if !ok {
		return Plan{}, ErrUnknownPlan
	}
	return p, nil
}

// List returns all plans ordered by price.
func (c *Catalog) List() []Plan {
	if c == nil {
		return nil
	}
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PriceMinor == out[j].PriceMinor {
			return out[i].ID < out[j].ID
		}
		return out[i].PriceMinor < out[j].PriceMinor
	})
	return out
}

func normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
