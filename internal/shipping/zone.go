package shipping

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNoZone         = errors.New("no shipping zone covers region")
	ErrRegionConflict = errors.New("region already belongs to another active zone")
)

type Zone struct {
	ID      int64           `json:"id"`
	Name    string          `json:"name"`
	Regions []string        `json:"regions"`
	Fee     decimal.Decimal `json:"fee"`
	Active  bool            `json:"active"`
}

func NormalizeRegion(region string) string {
	return strings.ToLower(strings.TrimSpace(region))
}

func (z Zone) Covers(region string) bool {
	region = NormalizeRegion(region)
	for _, r := range z.Regions {
		if NormalizeRegion(r) == region {
			return true
		}
	}
	return false
}

// Resolve returns the active zone covering region. When several active zones
// claim the region the lowest ID wins.
func Resolve(zones []Zone, region string) (Zone, error) {
	if NormalizeRegion(region) == "" {
		return Zone{}, fmt.Errorf("%w: empty region", ErrNoZone)
	}
	var matches []Zone
	for _, z := range zones {
		if z.Active && z.Covers(region) {
			matches = append(matches, z)
		}
	}
	if len(matches) == 0 {
		return Zone{}, fmt.Errorf("%w: %q", ErrNoZone, region)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	return matches[0], nil
}

// CheckOverlap rejects a candidate zone whose regions are already claimed by
// another active zone. Inactive candidates never conflict.
func CheckOverlap(existing []Zone, candidate Zone) error {
	if !candidate.Active {
		return nil
	}
	for _, z := range existing {
		if !z.Active || z.ID == candidate.ID {
			continue
		}
		for _, r := range candidate.Regions {
			if z.Covers(r) {
				return fmt.Errorf("%w: %q is in zone %q", ErrRegionConflict, NormalizeRegion(r), z.Name)
			}
		}
	}
	return nil
}

type Store interface {
	ActiveZones(ctx context.Context) ([]Zone, error)
}

type Resolver struct{ store Store }

func NewResolver(store Store) *Resolver { return &Resolver{store: store} }

func (r *Resolver) Resolve(ctx context.Context, region string) (Zone, error) {
	zones, err := r.store.ActiveZones(ctx)
	if err != nil {
		return Zone{}, fmt.Errorf("load shipping zones: %w", err)
	}
	return Resolve(zones, region)
}
