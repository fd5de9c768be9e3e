package models

import "fmt"

// Tier is one (concurrency, total-requests) point within a sweep
type Tier struct {
	Concurrency   int `json:"concurrency"`
	TotalRequests int `json:"total_requests"`
}

// Key returns the scenario key used to group results across targets,
// e.g. "c8_n64" for 8 workers issuing 64 requests.
func (t Tier) Key() string {
	return fmt.Sprintf("c%d_n%d", t.Concurrency, t.TotalRequests)
}

// Validate checks the tier invariants. TotalRequests >= Concurrency is
// recommended but deliberately not enforced.
func (t Tier) Validate() error {
	if t.Concurrency < 1 {
		return fmt.Errorf("tier concurrency must be >= 1, got %d", t.Concurrency)
	}
	if t.TotalRequests < 1 {
		return fmt.Errorf("tier total_requests must be >= 1, got %d", t.TotalRequests)
	}
	return nil
}

// DefaultTiers is the escalating series used when no explicit tier list is given
func DefaultTiers() []Tier {
	levels := []int{1, 2, 4, 8, 16, 32}
	tiers := make([]Tier, 0, len(levels))
	for _, c := range levels {
		tiers = append(tiers, Tier{Concurrency: c, TotalRequests: c * 10})
	}
	return tiers
}

// ParseTier parses a "concurrency:total" pair, e.g. "8:64"
func ParseTier(s string) (Tier, error) {
	var t Tier
	if _, err := fmt.Sscanf(s, "%d:%d", &t.Concurrency, &t.TotalRequests); err != nil {
		return Tier{}, fmt.Errorf("invalid tier %q (want concurrency:total): %w", s, err)
	}
	if err := t.Validate(); err != nil {
		return Tier{}, err
	}
	return t, nil
}
