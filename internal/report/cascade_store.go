package report

import (
	"context"

	"github.com/civicplus/civicplus-backend/internal/report/cascade"
)

// cascadeStore adapts the repository to the cascade engine's Store surface.
type cascadeStore struct {
	repo Store
}

func snapshotOf(rp *Report) cascade.Snapshot {
	return cascade.Snapshot{
		ID:               rp.ID,
		ReporterID:       rp.ReporterID,
		Status:           string(rp.Status),
		Department:       rp.Department,
		Remark:           rp.Remark,
		IsRepresentative: rp.IsRepresentative,
	}
}

func (s *cascadeStore) Get(ctx context.Context, id string) (*cascade.Snapshot, error) {
	rp, err := s.repo.GetByID(ctx, id)
	if err != nil || rp == nil {
		return nil, err
	}
	snap := snapshotOf(rp)
	return &snap, nil
}

func (s *cascadeStore) Members(ctx context.Context, representativeID string) ([]cascade.Snapshot, error) {
	members, err := s.repo.Members(ctx, representativeID)
	if err != nil {
		return nil, err
	}
	snapshots := make([]cascade.Snapshot, len(members))
	for i, m := range members {
		snapshots[i] = snapshotOf(m)
	}
	return snapshots, nil
}

func (s *cascadeStore) ApplyFields(ctx context.Context, id string, status, remark, department *string) error {
	return s.repo.ApplyStatusFields(ctx, id, status, remark, department)
}

func (s *cascadeStore) AppendHistory(ctx context.Context, reportID, status, remark, updatedBy string, isCascade bool) error {
	return s.repo.AppendHistory(ctx, reportID, status, remark, updatedBy, isCascade)
}
