package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/civicplus/civicplus-backend/internal/notification"
	"github.com/civicplus/civicplus-backend/internal/report/cascade"
	"github.com/civicplus/civicplus-backend/internal/report/cluster"
	"github.com/civicplus/civicplus-backend/internal/user"
	"github.com/civicplus/civicplus-backend/pkg/metrics"
)

// Common errors
var (
	ErrReportNotFound = errors.New("report not found")
	ErrValidation     = errors.New("validation failed")
	ErrNotAuthority   = errors.New("authority role required")
	// ErrConflict surfaces an exhausted linkage retry budget to the caller.
	ErrConflict = cluster.ErrConflict
)

// Store is the persistence surface the service and its collaborators run
// against. *Repository satisfies it.
type Store interface {
	Create(ctx context.Context, rp *Report) (*Report, error)
	GetByID(ctx context.Context, id string) (*Report, error)
	FindNearby(ctx context.Context, lat, lng, radiusMeters float64, category, excludeID string) ([]cluster.Candidate, error)
	Anchor(ctx context.Context, id string) (*cluster.Candidate, error)
	LinkMember(ctx context.Context, representativeID, memberID string) error
	MemberIDs(ctx context.Context, representativeID string) ([]string, error)
	Members(ctx context.Context, representativeID string) ([]*Report, error)
	ApplyStatusFields(ctx context.Context, id string, status, remark, department *string) error
	AppendHistory(ctx context.Context, reportID, status, remark, updatedBy string, isCascade bool) error
	History(ctx context.Context, reportID string) ([]*StatusHistoryEntry, error)
	List(ctx context.Context, f *ListFilter, onlyRepresentatives bool) ([]*Report, int, error)
	MapPins(ctx context.Context) ([]*MapPin, error)
	Stats(ctx context.Context) (*StatsResponse, error)
	ToggleUpvote(ctx context.Context, reportID, userID string) (int, bool, error)
	SetVision(ctx context.Context, id, detectedCategory string, verified bool, confidence float64) error
	Delete(ctx context.Context, id string) error
}

// UserDirectory resolves reporter identities for cluster views.
// *user.Repository satisfies it.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*user.User, error)
}

// Notifier delivers events to reporters. *notification.Dispatcher satisfies it.
type Notifier interface {
	Publish(ctx context.Context, userID string, event notification.Event)
}

// VisionClassifier checks whether a report photo matches its category.
// Implemented by the external vision service client; may be nil.
type VisionClassifier interface {
	Classify(ctx context.Context, imageURL, expectedCategory string) (detectedCategory string, verified bool, confidence float64, err error)
}

// Service sequences the report lifecycle: create → cluster resolution →
// notify, and status update → cascade → notify.
type Service struct {
	repo     Store
	users    UserDirectory
	resolver *cluster.Resolver
	engine   *cascade.Engine
	notifier Notifier
	vision   VisionClassifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewService creates the report service and wires the cluster resolver and
// cascade engine on top of the same store.
func NewService(repo Store, users UserDirectory, notifier Notifier, vision VisionClassifier, m *metrics.Metrics, radiusMeters float64, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		users:    users,
		resolver: cluster.NewResolver(repo, repo, radiusMeters, logger),
		engine:   cascade.NewEngine(&cascadeStore{repo: repo}, logger),
		notifier: notifier,
		vision:   vision,
		metrics:  m,
		logger:   logger,
	}
}

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

func validateCreate(req *CreateReportRequest) error {
	switch {
	case req.Title == "":
		return validationError("title is required")
	case req.Description == "":
		return validationError("description is required")
	case !req.Category.Valid():
		return validationError("unknown category")
	case req.Latitude < -90 || req.Latitude > 90:
		return validationError("latitude out of range")
	case req.Longitude < -180 || req.Longitude > 180:
		return validationError("longitude out of range")
	}
	return nil
}

// Create persists a new report and links it to a nearby group of the same
// category when one exists. Clustering is best effort: a resolution failure
// never fails the creation, the report just stays standalone.
func (s *Service) Create(ctx context.Context, reporterID string, req *CreateReportRequest) (*Report, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	rp := &Report{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Status:      StatusPending,
		Department:  DepartmentFor(req.Category),
		ImageURL:    req.ImageURL,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Address:     req.Address,
		ReporterID:  reporterID,
	}

	created, err := s.repo.Create(ctx, rp)
	if err != nil {
		return nil, err
	}
	if err := s.repo.AppendHistory(ctx, created.ID, string(StatusPending), "Report submitted", reporterID, false); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ReportsCreated.Inc()
	}

	s.classifyImage(ctx, created)

	resolution, err := s.resolver.Resolve(ctx, created.ID, string(created.Category), created.Latitude, created.Longitude)
	switch {
	case err != nil:
		if errors.Is(err, cluster.ErrConflict) && s.metrics != nil {
			s.metrics.ClusterConflicts.Inc()
		}
		s.logger.Warn("cluster resolution failed, report stays standalone",
			zap.String("report_id", created.ID), zap.Error(err))
	case resolution.Linked:
		if s.metrics != nil {
			s.metrics.ClusterLinks.Inc()
		}
		s.logger.Info("report linked to cluster",
			zap.String("report_id", created.ID),
			zap.String("representative_id", resolution.RepresentativeID))
		// Re-read so the response reflects the linkage.
		if linked, gerr := s.repo.GetByID(ctx, created.ID); gerr == nil && linked != nil {
			created = linked
		}
	}

	return created, nil
}

// classifyImage asks the vision service to verify the report photo.
// Best effort: absent client, absent image, or a service failure all leave
// the report unverified.
func (s *Service) classifyImage(ctx context.Context, rp *Report) {
	if s.vision == nil || rp.ImageURL == "" {
		return
	}
	detected, verified, confidence, err := s.vision.Classify(ctx, rp.ImageURL, string(rp.Category))
	if err != nil {
		s.logger.Warn("image classification failed",
			zap.String("report_id", rp.ID), zap.Error(err))
		return
	}
	if err := s.repo.SetVision(ctx, rp.ID, detected, verified, confidence); err != nil {
		s.logger.Warn("failed to store vision result",
			zap.String("report_id", rp.ID), zap.Error(err))
		return
	}
	rp.VisionCategory = &detected
	rp.VisionVerified = &verified
	rp.VisionConfidence = &confidence
}

// Get retrieves a report with its status history
func (s *Service) Get(ctx context.Context, id string) (*Report, []*StatusHistoryEntry, error) {
	rp, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if rp == nil {
		return nil, nil, ErrReportNotFound
	}

	history, err := s.repo.History(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return rp, history, nil
}

// UpdateStatus applies an authority decision to a report and cascades it to
// every linked member. The result names any members whose writes failed;
// those are surfaced, never retried automatically.
func (s *Service) UpdateStatus(ctx context.Context, reportID, actingUserID string, isAuthority bool, req *UpdateStatusRequest) (*UpdateStatusResponse, error) {
	if !isAuthority {
		return nil, ErrNotAuthority
	}
	if req.Status != nil && !req.Status.Valid() {
		return nil, validationError("unknown status")
	}

	patch := cascade.Patch{
		Remark:     req.Remark,
		Department: req.Department,
	}
	if req.Status != nil {
		status := string(*req.Status)
		patch.Status = &status
	}

	result, err := s.engine.ApplyUpdate(ctx, reportID, patch, actingUserID)
	if err != nil {
		if errors.Is(err, cascade.ErrNotFound) {
			return nil, ErrReportNotFound
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.CascadeUpdates.Add(float64(result.CascadedCount))
		s.metrics.CascadeFailures.Add(float64(len(result.FailedMemberIDs)))
	}

	for _, updated := range result.Updated {
		s.notifier.Publish(ctx, updated.ReporterID, notification.Event{
			ReportID:  updated.ReportID,
			Status:    updated.Status,
			Remark:    updated.Remark,
			IsCascade: updated.IsCascade,
		})
	}

	rp, err := s.repo.GetByID(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if rp == nil {
		return nil, ErrReportNotFound
	}

	return &UpdateStatusResponse{
		Report:          rp.ToResponse(),
		CascadedCount:   result.CascadedCount,
		FailedMemberIDs: result.FailedMemberIDs,
	}, nil
}

// ClusterView returns the group a report belongs to. Reporter identities are
// redacted unless the caller holds the authority role.
func (s *Service) ClusterView(ctx context.Context, reportID string, isAuthority bool) (*ClusterViewResponse, error) {
	rp, err := s.repo.GetByID(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if rp == nil {
		return nil, ErrReportNotFound
	}

	var representative *Report
	switch {
	case rp.RepresentativeID != nil:
		representative, err = s.repo.GetByID(ctx, *rp.RepresentativeID)
		if err != nil {
			return nil, err
		}
		if representative == nil {
			return &ClusterViewResponse{IsInCluster: false}, nil
		}
	case rp.IsRepresentative:
		representative = rp
	default:
		return &ClusterViewResponse{IsInCluster: false}, nil
	}

	members, err := s.repo.Members(ctx, representative.ID)
	if err != nil {
		return nil, err
	}

	all := append([]*Report{representative}, members...)
	reporters := make([]*ClusterReporter, len(all))
	for i, member := range all {
		entry := &ClusterReporter{
			ReportID:   member.ID,
			Status:     member.Status,
			ReportedAt: member.CreatedAt.Format(time.RFC3339),
		}
		if isAuthority {
			entry.Title = member.Title
			if u, uerr := s.users.GetByID(ctx, member.ReporterID); uerr == nil && u != nil {
				entry.Name = &u.Name
				entry.Email = &u.Email
				entry.Phone = &u.Phone
			}
		}
		reporters[i] = entry
	}

	return &ClusterViewResponse{
		IsInCluster:      true,
		RepresentativeID: representative.ID,
		Category:         representative.Category,
		Status:           representative.Status,
		TotalReports:     len(all),
		Reporters:        reporters,
	}, nil
}

// List retrieves reports matching the filter with pagination
func (s *Service) List(ctx context.Context, f *ListFilter, page, perPage int) ([]*Report, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	f.Limit = perPage
	f.Offset = (page - 1) * perPage
	return s.repo.List(ctx, f, false)
}

// ClusterSummary is one row of the authority cluster listing
type ClusterSummary struct {
	Representative *ReportResponse `json:"representative"`
	TotalReports   int             `json:"total_reports"`
}

// ListClusters retrieves representatives with their group sizes
func (s *Service) ListClusters(ctx context.Context, f *ListFilter, page, perPage int) ([]*ClusterSummary, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	f.Limit = perPage
	f.Offset = (page - 1) * perPage

	representatives, total, err := s.repo.List(ctx, f, true)
	if err != nil {
		return nil, 0, err
	}

	summaries := make([]*ClusterSummary, len(representatives))
	for i, rep := range representatives {
		memberIDs, err := s.repo.MemberIDs(ctx, rep.ID)
		if err != nil {
			return nil, 0, err
		}
		summaries[i] = &ClusterSummary{
			Representative: rep.ToResponse(),
			TotalReports:   1 + len(memberIDs),
		}
	}
	return summaries, total, nil
}

// MapPins returns the lightweight projection for the map view
func (s *Service) MapPins(ctx context.Context) ([]*MapPin, error) {
	return s.repo.MapPins(ctx)
}

// Stats returns report volume totals
func (s *Service) Stats(ctx context.Context) (*StatsResponse, error) {
	return s.repo.Stats(ctx)
}

// Upvote toggles the caller's upvote on a report
func (s *Service) Upvote(ctx context.Context, reportID, userID string) (*UpvoteResponse, error) {
	count, upvoted, err := s.repo.ToggleUpvote(ctx, reportID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReportNotFound
		}
		return nil, err
	}
	return &UpvoteResponse{Upvotes: count, Upvoted: upvoted}, nil
}

// Delete removes a report. Members of a deleted representative revert to
// standalone.
func (s *Service) Delete(ctx context.Context, reportID string, isAuthority bool) error {
	if !isAuthority {
		return ErrNotAuthority
	}
	if err := s.repo.Delete(ctx, reportID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrReportNotFound
		}
		return err
	}
	return nil
}
