package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/w1ctl/internal/protocol/w1"
)

// Source is the part of the bus client a scan needs.
type Source interface {
	ListMasters(ctx context.Context) ([]uint32, error)
	Search(ctx context.Context, master uint32) ([]w1.TargetID, error)
}

type ScanResult struct {
	Masters int `json:"masters"`
	Devices int `json:"devices"`
}

// Scan lists masters, searches each one, and records what it finds. A failed
// search on one master is logged and skipped.
func Scan(ctx context.Context, src Source, s *Store) (ScanResult, error) {
	masters, err := src.ListMasters(ctx)
	if err != nil {
		return ScanResult{}, fmt.Errorf("inventory: scan: %w", err)
	}
	now := time.Now()
	if err := s.RecordMasters(masters, now); err != nil {
		return ScanResult{}, err
	}
	res := ScanResult{Masters: len(masters)}
	for _, master := range masters {
		slaves, err := src.Search(ctx, master)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			log.Warn().Err(err).Uint32("master", master).Msg("search failed")
			continue
		}
		if err := s.RecordSlaves(master, slaves, now); err != nil {
			return res, err
		}
		res.Devices += len(slaves)
	}
	log.Info().Int("masters", res.Masters).Int("devices", res.Devices).Msg("inventory scan complete")
	return res, nil
}
