package syncer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/skeinhq/skein/pkg/apierror"
	"github.com/skeinhq/skein/pkg/arf"
	"github.com/skeinhq/skein/pkg/domain"
)

// ForkDestination migrates a sync to a new destination: the new connection
// joins as a shadow slot, a replay job hydrates it from the archive
// (skip-hash, never billable), and on success the shadow is promoted to
// active while the previous active is demoted to deprecated in one update.
func (s *Service) ForkDestination(ctx context.Context, orgID, syncID, newConnectionID uuid.UUID) (*domain.SyncJob, error) {
	d := s.deps

	sy, err := d.Control.GetSync(ctx, orgID, syncID)
	if err != nil {
		return nil, err
	}
	coll, err := d.Control.GetCollection(ctx, orgID, sy.CollectionID)
	if err != nil {
		return nil, err
	}

	shadow := domain.SyncConnection{
		ID:           uuid.New(),
		SyncID:       sy.ID,
		ConnectionID: newConnectionID,
		Role:         domain.RoleShadow,
	}
	sy.Destinations = append(sy.Destinations, shadow)
	if err := d.Control.UpdateSync(ctx, sy); err != nil {
		return nil, err
	}

	cfg := domain.ExecutionConfig{
		// Replays write only the new slot; content is authoritative.
		DestinationFilter:  []uuid.UUID{newConnectionID},
		SkipHashComparison: true,
	}
	rawConfig, err := json.Marshal(cfg)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindDataIntegrity, "failed to encode replay config", err)
	}

	job := &domain.SyncJob{
		ID:             uuid.New(),
		SyncID:         sy.ID,
		OrganizationID: orgID,
		Status:         domain.JobCreated,
		Config:         rawConfig,
		CreatedAt:      time.Now().UTC(),
	}

	replay := arf.NewReplaySource(d.Archive, orgID, sy.ID)
	rt, err := s.assemble(ctx, job, sy, coll.Embedding, cfg, replay, false, false)
	if err != nil {
		return nil, err
	}

	if err := s.claimSync(sy.ID); err != nil {
		return nil, err
	}
	runErr := NewOrchestrator(rt).Run(ctx)
	s.releaseSync(sy.ID)
	if runErr != nil {
		return job, runErr
	}

	// Promotion is a single sync update so readers never observe zero or
	// two active slots.
	for i, slot := range sy.Destinations {
		switch {
		case slot.ID == shadow.ID:
			sy.Destinations[i].Role = domain.RoleActive
		case slot.Role == domain.RoleActive:
			sy.Destinations[i].Role = domain.RoleDeprecated
		}
	}
	if err := d.Control.UpdateSync(ctx, sy); err != nil {
		return job, err
	}
	return job, nil
}
