package server

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/referto-app/referto/observability"
)

// DefaultHousekeeping runs cleanup every ten minutes.
const DefaultHousekeeping = "@every 10m"

type housekeeper struct {
	cron *cron.Cron
}

func newHousekeeper(s *Server, spec string) (*housekeeper, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, s.housekeep); err != nil {
		return nil, fmt.Errorf("housekeeping schedule %q: %w", spec, err)
	}
	return &housekeeper{cron: c}, nil
}

func (h *housekeeper) start() { h.cron.Start() }

// stop waits for a running job to return.
func (h *housekeeper) stop() {
	<-h.cron.Stop().Done()
}

// housekeep drops expired tasks and stale uploads.
func (s *Server) housekeep() {
	swept := s.deps.Queue.Sweep()
	purged := 0
	if s.opts.UploadRetention > 0 {
		n, err := s.deps.Store.PurgeOlderThan(s.opts.UploadRetention, s.now())
		if err != nil {
			s.logger.Warn("purge uploads", observability.Error("error", err))
		}
		purged = n
	}
	if swept > 0 || purged > 0 {
		s.logger.Info("housekeeping",
			observability.Int("tasks_swept", swept),
			observability.Int("uploads_purged", purged),
		)
	}
}

