// Package dispatch fans a discovery task out across the decomposed regions
// of a run's geography and merges the results. Regions run in parallel
// under a shared concurrency cap and rate limiter; duplicate domains across
// regions collapse to the best-scored row.
package dispatch

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/region"
	"github.com/sells-group/campaign-cli/internal/resilience"
)

// Searcher performs the discovery call for one region. exhausted reports
// that the region has no further results beyond those returned.
type Searcher interface {
	Search(ctx context.Context, criteria model.Criteria, reg region.Region, limit int) (found []model.CompanyCandidate, exhausted bool, err error)
}

// Config sizes a dispatch.
type Config struct {
	Concurrency int           // parallel regions; defaults to 4
	Limiter     *rate.Limiter // shared across regions, nil means unlimited
	Retry       resilience.RetryConfig
	PerRegion   int // result budget per region
}

func DefaultConfig() Config {
	return Config{
		Concurrency: 4,
		Retry:       resilience.DiscoveryTaskRetry(),
	}
}

// Result is the merged outcome of one fan-out.
type Result struct {
	Candidates    []model.CompanyCandidate
	RegionsOK     int
	RegionsFailed int
	FailedRegions []string
	Duplicates    int // cross-region duplicate domains dropped

	// Exhausted means the geography holds nothing more: every successful
	// region reported exhaustion, and successes form the majority. A
	// minority of failed regions cannot block the claim, but when most
	// regions failed the geography might still hold results somewhere.
	Exhausted bool
}

// DispatchAll searches every region concurrently and merges the results.
//
// Failed regions never sink the dispatch: every region runs to
// finish-or-fail and whatever succeeded is returned, with the failures
// recorded in FailedRegions. Only a dispatch where no region succeeds at
// all errors, so the caller's retry takes over.
func DispatchAll(ctx context.Context, searcher Searcher, criteria model.Criteria, regions []region.Region, cfg Config) (*Result, error) {
	if len(regions) == 0 {
		return nil, eris.New("dispatch: no regions")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = resilience.DiscoveryTaskRetry()
	}

	log := zap.L().Named("dispatch")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)

	type regionOutcome struct {
		found     []model.CompanyCandidate
		exhausted bool
	}

	var mu sync.Mutex
	var all []model.CompanyCandidate
	var failed []string
	var firstErr error
	okCount := 0
	allExhausted := true

	for _, reg := range regions {
		g.Go(func() error {
			if cfg.Limiter != nil {
				if err := cfg.Limiter.Wait(gctx); err != nil {
					return err
				}
			}

			out, err := resilience.DoVal(gctx, cfg.Retry, func(ctx context.Context) (regionOutcome, error) {
				found, exhausted, err := searcher.Search(ctx, criteria, reg, cfg.PerRegion)
				return regionOutcome{found: found, exhausted: exhausted}, err
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warn("region search failed",
					zap.String("region", reg.Name), zap.Error(err))
				failed = append(failed, reg.Name)
				if firstErr == nil {
					firstErr = eris.Wrapf(err, "dispatch: region %s", reg.Name)
				}
				return nil
			}
			okCount++
			if !out.exhausted {
				allExhausted = false
			}
			for i := range out.found {
				if out.found[i].DiscoverySource == "" {
					out.found[i].DiscoverySource = "region:" + reg.Name
				}
			}
			all = append(all, out.found...)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "dispatch: cancelled")
	}

	if okCount == 0 {
		return nil, eris.Wrapf(firstErr, "dispatch: all %d regions failed", len(regions))
	}

	sort.Strings(failed)
	merged, dupes := dedupeByDomain(all)
	log.Info("dispatch complete",
		zap.Int("regions_ok", okCount),
		zap.Int("regions_failed", len(failed)),
		zap.Strings("failed_regions", failed),
		zap.Int("candidates", len(merged)),
		zap.Int("duplicates_dropped", dupes),
	)

	return &Result{
		Candidates:    merged,
		RegionsOK:     okCount,
		RegionsFailed: len(failed),
		FailedRegions: failed,
		Duplicates:    dupes,
		Exhausted:     allExhausted && okCount > len(failed),
	}, nil
}

// dedupeByDomain keeps one candidate per normalized domain, preferring the
// higher quality score. Output order is deterministic: score descending,
// then domain.
func dedupeByDomain(in []model.CompanyCandidate) ([]model.CompanyCandidate, int) {
	best := make(map[string]model.CompanyCandidate, len(in))
	dupes := 0
	for _, c := range in {
		domain := model.NormalizeDomain(c.Domain)
		if domain == "" {
			continue
		}
		c.Domain = domain
		prev, seen := best[domain]
		if !seen {
			best[domain] = c
			continue
		}
		dupes++
		if c.QualityScore > prev.QualityScore {
			best[domain] = c
		}
	}

	out := make([]model.CompanyCandidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].QualityScore != out[j].QualityScore {
			return out[i].QualityScore > out[j].QualityScore
		}
		return out[i].Domain < out[j].Domain
	})
	return out, dupes
}
