// Package cascade applies an authority decision to one report and
// propagates the resulting state to every linked member.
package cascade

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// CascadeRemarkPrefix marks member history entries that were written by a
// group update rather than a direct one.
const CascadeRemarkPrefix = "[Cluster update] "

// defaultCascadeRemark is used on members when the update carried no remark.
const defaultCascadeRemark = "Status updated via cluster representative"

// ErrNotFound means the target report does not exist
var ErrNotFound = errors.New("report not found")

// Patch is a partial update. Nil fields mean "no change requested", which is
// distinct from a change to the empty string.
type Patch struct {
	Status     *string
	Remark     *string
	Department *string
}

// empty reports whether the patch requests no change at all
func (p Patch) empty() bool {
	return p.Status == nil && p.Remark == nil && p.Department == nil
}

// Snapshot is the subset of report state the engine reads and writes
type Snapshot struct {
	ID               string
	ReporterID       string
	Status           string
	Department       string
	Remark           string
	IsRepresentative bool
}

// Store is the persistence surface the engine runs against
type Store interface {
	// Get returns a report's cascade snapshot; (nil, nil) when missing.
	Get(ctx context.Context, id string) (*Snapshot, error)
	// Members returns the snapshots linked under a representative.
	Members(ctx context.Context, representativeID string) ([]Snapshot, error)
	// ApplyFields overwrites only the non-nil fields.
	ApplyFields(ctx context.Context, id string, status, remark, department *string) error
	// AppendHistory appends one immutable status-history entry.
	AppendHistory(ctx context.Context, reportID, status, remark, updatedBy string, isCascade bool) error
}

// Updated describes one report mutated by an update, in the shape the
// notification layer needs.
type Updated struct {
	ReportID   string
	ReporterID string
	Status     string
	Remark     string
	IsCascade  bool
}

// Result is the outcome of ApplyUpdate. FailedMemberIDs enumerates members
// whose writes failed; those keep their prior state and are never retried
// automatically.
type Result struct {
	Target          Snapshot
	Updated         []Updated
	CascadedCount   int
	FailedMemberIDs []string
}

// Engine propagates status updates across report groups
type Engine struct {
	store  Store
	logger *zap.Logger
}

// NewEngine creates a new cascade engine
func NewEngine(store Store, logger *zap.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// ApplyUpdate merges the patch into the target report, logs a history entry,
// and, when the target represents a group, applies the same resulting state
// to every member with a cascade-tagged history entry. Member writes are not
// transactional across the group: a mid-cascade failure leaves earlier
// members updated and is reported, not rolled back.
func (e *Engine) ApplyUpdate(ctx context.Context, reportID string, patch Patch, actingUserID string) (*Result, error) {
	target, err := e.store.Get(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, ErrNotFound
	}

	// Merge: supplied fields win, absent fields keep current values.
	if patch.Status != nil {
		target.Status = *patch.Status
	}
	if patch.Remark != nil {
		target.Remark = *patch.Remark
	}
	if patch.Department != nil {
		target.Department = *patch.Department
	}

	if !patch.empty() {
		if err := e.store.ApplyFields(ctx, target.ID, patch.Status, patch.Remark, patch.Department); err != nil {
			return nil, fmt.Errorf("failed to apply update to %s: %w", target.ID, err)
		}
	}

	directRemark := ""
	if patch.Remark != nil {
		directRemark = *patch.Remark
	}
	if err := e.store.AppendHistory(ctx, target.ID, target.Status, directRemark, actingUserID, false); err != nil {
		return nil, fmt.Errorf("failed to log update on %s: %w", target.ID, err)
	}

	result := &Result{
		Target: *target,
		Updated: []Updated{{
			ReportID:   target.ID,
			ReporterID: target.ReporterID,
			Status:     target.Status,
			Remark:     directRemark,
			IsCascade:  false,
		}},
	}

	if !target.IsRepresentative {
		return result, nil
	}

	members, err := e.store.Members(ctx, target.ID)
	if err != nil {
		return nil, err
	}

	cascadeRemark := CascadeRemarkPrefix + defaultCascadeRemark
	if patch.Remark != nil {
		cascadeRemark = CascadeRemarkPrefix + *patch.Remark
	}

	// Members mirror the representative's full resulting state, not just the
	// patched fields.
	status := target.Status
	department := target.Department
	remark := target.Remark

	for _, member := range members {
		if err := e.applyToMember(ctx, member.ID, &status, &remark, &department, cascadeRemark, actingUserID); err != nil {
			e.logger.Error("cascade write failed",
				zap.String("representative_id", target.ID),
				zap.String("member_id", member.ID),
				zap.Error(err))
			result.FailedMemberIDs = append(result.FailedMemberIDs, member.ID)
			continue
		}
		result.CascadedCount++
		result.Updated = append(result.Updated, Updated{
			ReportID:   member.ID,
			ReporterID: member.ReporterID,
			Status:     status,
			Remark:     cascadeRemark,
			IsCascade:  true,
		})
	}

	return result, nil
}

func (e *Engine) applyToMember(ctx context.Context, memberID string, status, remark, department *string, cascadeRemark, actingUserID string) error {
	if err := e.store.ApplyFields(ctx, memberID, status, remark, department); err != nil {
		return err
	}
	return e.store.AppendHistory(ctx, memberID, *status, cascadeRemark, actingUserID, true)
}
