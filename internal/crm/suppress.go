// Package crm filters discovered companies against the CRM so a campaign
// never re-prospects an account the business already knows.
package crm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/pkg/salesforce"
)

// Suppressor decides whether a domain is already present in the CRM.
type Suppressor interface {
	Suppressed(ctx context.Context, domain string) (bool, error)
}

// Filter drops candidates whose domain the suppressor knows. Suppression
// lookups failing is not fatal: the candidate is kept and flagged in the
// log, because a false positive costs a duplicate while a false negative
// silently shrinks the run.
func Filter(ctx context.Context, s Suppressor, candidates []model.CompanyCandidate) []model.CompanyCandidate {
	if s == nil {
		return candidates
	}
	log := zap.L().Named("crm")

	kept := candidates[:0]
	suppressed := 0
	for _, c := range candidates {
		hit, err := s.Suppressed(ctx, c.Domain)
		if err != nil {
			log.Warn("suppression check failed, keeping candidate",
				zap.String("domain", c.Domain), zap.Error(err))
			kept = append(kept, c)
			continue
		}
		if hit {
			suppressed++
			continue
		}
		kept = append(kept, c)
	}
	if suppressed > 0 {
		log.Info("candidates suppressed against CRM",
			zap.Int("suppressed", suppressed), zap.Int("kept", len(kept)))
	}
	return kept
}

// accountRecord is the slice of a Salesforce Account row we query.
type accountRecord struct {
	ID      string `json:"Id"`
	Website string `json:"Website"`
}

// SalesforceSuppressor answers suppression checks with SOQL lookups on the
// Account Website field, memoizing per domain for the life of the process.
type SalesforceSuppressor struct {
	client salesforce.Client

	mu    sync.Mutex
	cache map[string]bool
}

func NewSalesforceSuppressor(client salesforce.Client) *SalesforceSuppressor {
	return &SalesforceSuppressor{
		client: client,
		cache:  make(map[string]bool),
	}
}

func (s *SalesforceSuppressor) Suppressed(ctx context.Context, domain string) (bool, error) {
	domain = model.NormalizeDomain(domain)
	if domain == "" {
		return false, nil
	}

	s.mu.Lock()
	hit, ok := s.cache[domain]
	s.mu.Unlock()
	if ok {
		return hit, nil
	}

	// Website values in the CRM carry schemes and www prefixes, so match on
	// the bare domain as a substring and re-verify after normalizing.
	soql := fmt.Sprintf(
		"SELECT Id, Website FROM Account WHERE Website LIKE '%%%s%%' LIMIT 10",
		escapeSOQL(domain))

	var result salesforce.QueryResult[accountRecord]
	if err := s.client.Query(ctx, soql, &result); err != nil {
		return false, eris.Wrapf(err, "crm: suppression query for %s", domain)
	}

	found := false
	for _, rec := range result.Records {
		if model.NormalizeDomain(rec.Website) == domain {
			found = true
			break
		}
	}

	s.mu.Lock()
	s.cache[domain] = found
	s.mu.Unlock()
	return found, nil
}

// escapeSOQL escapes single quotes and backslashes in a LIKE operand.
func escapeSOQL(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// Nop suppresses nothing. Used when no CRM is configured.
type Nop struct{}

func (Nop) Suppressed(context.Context, string) (bool, error) { return false, nil }
