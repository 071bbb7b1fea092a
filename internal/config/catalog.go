package config

import (
	"fmt"
	"os"

	"github.com/Paparusi/labo-sub000/internal/domain"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Catalog is the plan seed file.
type Catalog struct {
	Plans []*domain.Plan `yaml:"plans"`
}

// LoadPlanCatalog reads and validates a YAML plan catalog.
func LoadPlanCatalog(path string) ([]*domain.Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan catalog: %w", err)
	}
	return ParsePlanCatalog(raw)
}

// ParsePlanCatalog decodes catalog YAML. Ids must be UUIDs and slugs unique.
func ParsePlanCatalog(raw []byte) ([]*domain.Plan, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("failed to parse plan catalog: %w", err)
	}
	if len(c.Plans) == 0 {
		return nil, fmt.Errorf("plan catalog has no plans")
	}

	seen := make(map[string]bool, len(c.Plans))
	for i, p := range c.Plans {
		if _, err := uuid.Parse(p.ID); err != nil {
			return nil, fmt.Errorf("plan %d: id %q is not a uuid", i, p.ID)
		}
		if p.Slug == "" || p.Name == "" {
			return nil, fmt.Errorf("plan %s: slug and name are required", p.ID)
		}
		if seen[p.Slug] {
			return nil, fmt.Errorf("plan %s: duplicate slug %q", p.ID, p.Slug)
		}
		seen[p.Slug] = true
		if p.PriceMonthly < 0 || p.PriceYearly < 0 {
			return nil, fmt.Errorf("plan %s: prices must not be negative", p.Slug)
		}
		if p.PriceMonthly > domain.MaxPaymentAmount || p.PriceYearly > domain.MaxPaymentAmount {
			return nil, fmt.Errorf("plan %s: price exceeds %d", p.Slug, domain.MaxPaymentAmount)
		}
		for name, v := range map[string]int{"max_job_posts": p.MaxJobPosts, "max_profile_views": p.MaxProfileViews} {
			if v < domain.Unlimited {
				return nil, fmt.Errorf("plan %s: %s must be -1 or more", p.Slug, name)
			}
		}
	}
	return c.Plans, nil
}
