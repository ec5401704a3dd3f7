// Package cluster decides whether a newly created report joins an existing
// nearby group, and performs the linkage. The decision logic is pure; all
// I/O goes through the GeoIndex and Linker interfaces.
package cluster

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Common errors
var (
	// ErrConflict means a concurrent linkage beat us to the representative's
	// member set and the retry budget is exhausted.
	ErrConflict = errors.New("concurrent cluster linkage conflict")
	// ErrNotRepresentative means the chosen anchor became a member while we
	// were resolving; the caller should re-resolve.
	ErrNotRepresentative = errors.New("anchor is no longer a representative")
	// ErrNotLinkable means the new report became a representative itself and
	// must not be demoted to a member.
	ErrNotLinkable = errors.New("report cannot be linked as a member")
	// ErrAnchorGone means the anchor was deleted mid-resolution.
	ErrAnchorGone = errors.New("anchor report no longer exists")
)

// maxLinkAttempts bounds optimistic retries on member-set conflicts.
const maxLinkAttempts = 3

// Candidate is the clustering summary of a nearby report.
// It deliberately carries no member list: resolution can read linkage state
// but can only ever attach one member to one representative.
type Candidate struct {
	ID               string
	IsRepresentative bool
	RepresentativeID *string
}

// GeoIndex finds reports of a category within an exact great-circle radius
// of a point, closest first. An empty result is not an error.
type GeoIndex interface {
	FindNearby(ctx context.Context, lat, lng, radiusMeters float64, category, excludeID string) ([]Candidate, error)
}

// Linker reads and mutates linkage state in the report store.
type Linker interface {
	// Anchor re-reads one report's clustering state; (nil, nil) when missing.
	Anchor(ctx context.Context, id string) (*Candidate, error)
	// LinkMember attaches memberID under representativeID with set
	// semantics. Returns ErrConflict when the member set changed
	// concurrently, ErrNotRepresentative when the representative became a
	// member, ErrAnchorGone when it was deleted.
	LinkMember(ctx context.Context, representativeID, memberID string) error
}

// Resolution is the linkage outcome for a new report
type Resolution struct {
	Linked           bool
	RepresentativeID string
}

// Resolver links newly created reports to nearby groups
type Resolver struct {
	geo          GeoIndex
	linker       Linker
	radiusMeters float64
	locks        keyedMutex
	logger       *zap.Logger
}

// NewResolver creates a new cluster resolver
func NewResolver(geo GeoIndex, linker Linker, radiusMeters float64, logger *zap.Logger) *Resolver {
	return &Resolver{
		geo:          geo,
		linker:       linker,
		radiusMeters: radiusMeters,
		logger:       logger,
	}
}

// selectAnchor picks the anchor among candidates: a report that is already a
// root representative wins; otherwise the first (closest) candidate.
// Callers get no stronger ordering guarantee than "some candidate in radius".
func selectAnchor(candidates []Candidate) Candidate {
	for _, c := range candidates {
		if c.IsRepresentative && c.RepresentativeID == nil {
			return c
		}
	}
	return candidates[0]
}

// Resolve decides linkage for a freshly persisted report. When no candidate
// of the same category lies within the radius the report stays standalone.
// Otherwise the anchor's root representative gains the report as a member.
func (r *Resolver) Resolve(ctx context.Context, reportID, category string, lat, lng float64) (*Resolution, error) {
	candidates, err := r.geo.FindNearby(ctx, lat, lng, r.radiusMeters, category, reportID)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return &Resolution{Linked: false}, nil
	}

	anchor := selectAnchor(candidates)

	// Members point at their root directly, so one hop suffices.
	rootID := anchor.ID
	if anchor.RepresentativeID != nil {
		rootID = *anchor.RepresentativeID
	}

	for attempt := 1; attempt <= maxLinkAttempts; attempt++ {
		// Serialize linkage per representative within this process; the
		// member_version check below covers concurrent writers elsewhere.
		unlock := r.locks.lock(rootID)
		err = r.linker.LinkMember(ctx, rootID, reportID)
		unlock()

		switch {
		case err == nil:
			return &Resolution{Linked: true, RepresentativeID: rootID}, nil
		case errors.Is(err, ErrNotRepresentative), errors.Is(err, ErrAnchorGone):
			// The group shifted under us; re-read the root and retry.
			root, aerr := r.linker.Anchor(ctx, rootID)
			if aerr != nil {
				return nil, aerr
			}
			if root == nil {
				// Anchor deleted; the report stays standalone.
				return &Resolution{Linked: false}, nil
			}
			if root.RepresentativeID != nil {
				rootID = *root.RepresentativeID
			}
		case errors.Is(err, ErrNotLinkable):
			// The new report already anchors a group of its own (another
			// submission linked to it first). Leave it as that group's
			// representative.
			return &Resolution{Linked: false}, nil
		case errors.Is(err, ErrConflict):
			r.logger.Debug("cluster linkage conflict, retrying",
				zap.String("representative_id", rootID),
				zap.String("report_id", reportID),
				zap.Int("attempt", attempt))
		default:
			return nil, err
		}
	}

	return nil, ErrConflict
}
