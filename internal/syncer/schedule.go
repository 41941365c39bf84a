package syncer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Schedule runs s.Sync on a cron spec (standard five fields, or descriptors
// such as "@every 15m") until ctx is done. The returned cron is already started.
func Schedule(ctx context.Context, logger *slog.Logger, s *Syncer, spec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		res, err := s.Sync(ctx)
		if err != nil {
			logger.Error("Scheduled sync failed", "error", err)
			return
		}
		if failed := res.Count(ActionFailed); failed > 0 {
			logger.Warn("Scheduled sync finished with failures", "failed", failed)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sync schedule %q: %w", spec, err)
	}

	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	logger.Info("Background sync scheduled.", "schedule", spec)
	return c, nil
}
