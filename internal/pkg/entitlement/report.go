package entitlement

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"

	"github.com/davidgeissler/newsprint/app/models"
)

const (
	reportDefaultLimit      = 50
	reportMaxLimit          = 250
	reportLookupConcurrency = 8
)

// ReportSummary aggregates the per-record results.
type ReportSummary struct {
	Total      int64 `json:"total"`
	InSync     int   `json:"inSync"`
	Mismatched int   `json:"mismatched"`
}

// ReportRecord pairs one local record with its live provider snapshot (nil
// when the provider had none or was unreachable) and the computed mismatch
// reasons.
type ReportRecord struct {
	Record          *models.EntitlementRecord `json:"record"`
	Provider        *Snapshot                 `json:"provider"`
	MismatchReasons []string                  `json:"mismatchReasons"`
	InSync          bool                      `json:"inSync"`
}

// Report is the operator-facing reconciliation listing.
type Report struct {
	ProviderAvailable bool           `json:"providerAvailable"`
	GeneratedAt       time.Time      `json:"generatedAt"`
	Summary           ReportSummary  `json:"summary"`
	Records           []ReportRecord `json:"records"`
}

// BuildReport lists the most recently updated records and, when a provider
// client is configured, enriches each with a live snapshot via the same
// fallback chain the manual sync action uses. Provider lookups fan out with
// bounded concurrency; a failed lookup degrades that record to a nil
// provider section instead of failing the report.
func (s *Service) BuildReport(ctx context.Context, limit int) (*Report, error) {
	if limit <= 0 {
		limit = reportDefaultLimit
	}
	if limit > reportMaxLimit {
		limit = reportMaxLimit
	}

	records, err := s.repo.ListRecentlyUpdated(limit)
	if err != nil {
		return nil, err
	}
	total, err := s.repo.Count()
	if err != nil {
		return nil, err
	}

	snapshots := make([]*Snapshot, len(records))
	if s.provider != nil {
		g, groupCtx := errgroup.WithContext(ctx)
		g.SetLimit(reportLookupConcurrency)
		for i := range records {
			i := i
			g.Go(func() error {
				sub, lookupErr := lookupProviderSubscription(groupCtx, s.provider, &records[i])
				if lookupErr != nil {
					log.Warnf("reconciliation report: provider lookup failed for entitlement %s: %v",
						records[i].UUID, lookupErr)
					return nil
				}
				if sub != nil {
					snap := SnapshotFromSubscription(sub, s.plans)
					snapshots[i] = &snap
				}
				return nil
			})
		}
		// Workers only log failures, so Wait cannot return an error here.
		_ = g.Wait()
	}

	report := &Report{
		ProviderAvailable: s.provider != nil,
		GeneratedAt:       s.now().UTC(),
		Summary:           ReportSummary{Total: total},
		Records:           make([]ReportRecord, 0, len(records)),
	}
	for i := range records {
		reasons := MismatchReasons(&records[i], snapshots[i])
		if reasons == nil {
			reasons = []string{}
		}
		entry := ReportRecord{
			Record:          &records[i],
			Provider:        snapshots[i],
			MismatchReasons: reasons,
			InSync:          len(reasons) == 0,
		}
		if entry.InSync {
			report.Summary.InSync++
		} else {
			report.Summary.Mismatched++
		}
		report.Records = append(report.Records, entry)
	}
	return report, nil
}
