// Package region splits a run's geographic search space into disjoint
// sub-regions so independent discovery calls can search exhaustively in
// parallel without duplicating each other's effort.
//
// The partitioning is a best-effort, table-driven heuristic. Geographic
// correctness is not the goal; non-redundant coverage is.
package region

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sells-group/campaign-cli/internal/model"
)

// Region is one disjoint slice of the search space.
type Region struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	SearchFocus string `yaml:"focus" json:"search_focus"`
}

// DefaultCount is the region fan-out used when the caller does not ask for
// a specific number, matching the dispatcher's default pool size.
const DefaultCount = 4

//go:embed tables.yaml
var tablesYAML []byte

type tables struct {
	CityQuadrants map[string][]Region `yaml:"city_quadrants"`
	StateCities   map[string][]string `yaml:"state_cities"`
}

var geo = mustLoadTables()

func mustLoadTables() tables {
	var t tables
	if err := yaml.Unmarshal(tablesYAML, &t); err != nil {
		panic("region: embedded tables.yaml is invalid: " + err.Error())
	}
	return t
}

// stateNames maps postal abbreviations onto the table keys so criteria can
// carry either form.
var stateNames = map[string]string{
	"tx": "texas",
	"fl": "florida",
	"ca": "california",
	"az": "arizona",
	"ga": "georgia",
	"co": "colorado",
	"wa": "washington",
	"il": "illinois",
}

// Decompose partitions the criteria's geography into at most numRegions
// disjoint regions, in priority order:
//
//  1. a named city with a predefined quadrant map emits those quadrants;
//  2. a named state with a major-cities table emits one region per city;
//  3. otherwise numRegions generically-labeled slices of the search space.
//
// The result is deterministic for a given criteria value.
func Decompose(criteria model.Criteria, numRegions int) []Region {
	if numRegions <= 0 {
		numRegions = DefaultCount
	}

	if city := tableKey(criteria.City()); city != "" {
		if quadrants, ok := geo.CityQuadrants[city]; ok {
			return capRegions(quadrants, numRegions)
		}
	}

	if state := tableKey(criteria.State()); state != "" {
		if cities, ok := geo.StateCities[normalizeState(state)]; ok {
			regions := make([]Region, 0, len(cities))
			for _, c := range cities {
				regions = append(regions, Region{
					Name:        c,
					Description: fmt.Sprintf("%s metro area, %s", c, criteria.State()),
					SearchFocus: fmt.Sprintf("businesses headquartered in or around %s", c),
				})
			}
			return capRegions(regions, numRegions)
		}
	}

	// No usable table: emit generic non-overlapping slices and let the
	// research task interpret the split.
	scope := criteria.Summary()
	regions := make([]Region, numRegions)
	for i := range regions {
		regions[i] = Region{
			Name:        fmt.Sprintf("segment %d of %d", i+1, numRegions),
			Description: fmt.Sprintf("partition %d of %d of the search space (%s)", i+1, numRegions, scope),
			SearchFocus: fmt.Sprintf("only results belonging to partition %d when the space is split %d ways alphabetically by company name", i+1, numRegions),
		}
	}
	return regions
}

func tableKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeState(s string) string {
	if full, ok := stateNames[s]; ok {
		return full
	}
	return s
}

func capRegions(regions []Region, n int) []Region {
	if len(regions) <= n {
		out := make([]Region, len(regions))
		copy(out, regions)
		return out
	}
	out := make([]Region, n)
	copy(out, regions[:n])
	return out
}
