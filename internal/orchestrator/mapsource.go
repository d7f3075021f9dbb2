package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/swarmleads/leadengine/internal/browser"
	"github.com/swarmleads/leadengine/internal/lead"
	"github.com/swarmleads/leadengine/internal/maps"
	"github.com/swarmleads/leadengine/internal/metrics"
)

// MapsSource implements MapSource on top of the stealth browser and the
// map-search scraper.
type MapsSource struct {
	browsers *browser.Manager
	scraper  *maps.Scraper
	logger   *zap.Logger
}

// NewMapsSource wires the discovery source.
func NewMapsSource(browsers *browser.Manager, scraper *maps.Scraper, logger *zap.Logger) *MapsSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MapsSource{browsers: browsers, scraper: scraper, logger: logger}
}

// Discover searches the map for the job query and emits one lead per
// listing. A failed listing read is skipped, not fatal. The browser session
// is rotated when its lead budget is spent, and once more after a crash
// before giving up on the job.
func (s *MapsSource) Discover(
	ctx context.Context,
	job lead.ScrapeJob,
	emit func(lead.Lead) (bool, error),
) error {
	if s.browsers.ShouldRotate() {
		s.browsers.Rotate()
		metrics.ObserveBrowserRotation()
	}

	links, err := s.collectLinks(ctx, job)
	if err != nil {
		// One retry on a fresh session covers the crashed-browser case.
		s.logger.Warn("map search failed, rotating session",
			zap.String("job_id", job.ID.String()), zap.Error(err))
		s.browsers.Rotate()
		metrics.ObserveBrowserRotation()
		links, err = s.collectLinks(ctx, job)
		if err != nil {
			return fmt.Errorf("map search: %w", err)
		}
	}

	page, err := s.browsers.NewPage()
	if err != nil {
		return fmt.Errorf("open listing page: %w", err)
	}
	defer page.Close()

	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return err
		}
		page.SimulateHuman(ctx)

		l, err := s.scraper.ExtractDetails(ctx, page, job.OwnerID, job.ID, link)
		if err != nil {
			s.logger.Warn("listing read failed", zap.String("url", link), zap.Error(err))
			continue
		}
		if l.Name == maps.UnknownName {
			// The listing never rendered a name; treat it like a failed read.
			s.logger.Warn("listing name unreadable, skipping", zap.String("url", link))
			continue
		}
		s.browsers.RecordLead()

		keepGoing, err := emit(l)
		if err != nil {
			return err
		}
		if !keepGoing {
			return nil
		}
	}
	return nil
}

func (s *MapsSource) collectLinks(ctx context.Context, job lead.ScrapeJob) ([]string, error) {
	page, err := s.browsers.NewPage()
	if err != nil {
		return nil, err
	}
	defer page.Close()

	if err := s.scraper.Search(ctx, page, job.Query); err != nil {
		return nil, err
	}
	return s.scraper.CollectResultLinks(ctx, page, job.MaxResults)
}
