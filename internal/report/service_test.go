package report

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civicplus/civicplus-backend/internal/notification"
	"github.com/civicplus/civicplus-backend/internal/report/cluster"
	"github.com/civicplus/civicplus-backend/internal/user"
)

// memStore is an in-memory Store with the same linkage semantics as the
// Postgres repository, so service tests exercise the real resolver and
// cascade engine end to end.
type memStore struct {
	mu      sync.Mutex
	reports map[string]*Report
	members map[string][]string
	history map[string][]*StatusHistoryEntry
	upvotes map[string]map[string]struct{}
}

func newMemStore() *memStore {
	return &memStore{
		reports: make(map[string]*Report),
		members: make(map[string][]string),
		history: make(map[string][]*StatusHistoryEntry),
		upvotes: make(map[string]map[string]struct{}),
	}
}

func distanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	const r = 6371000.0
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLng := rad(lng2 - lng1)
	a := math.Pow(math.Sin(dLat/2), 2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Pow(math.Sin(dLng/2), 2)
	return 2 * r * math.Asin(math.Sqrt(a))
}

func (m *memStore) Create(_ context.Context, rp *Report) (*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rp
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.reports[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memStore) GetByID(_ context.Context, id string) (*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rp, ok := m.reports[id]
	if !ok {
		return nil, nil
	}
	cp := *rp
	return &cp, nil
}

func (m *memStore) FindNearby(_ context.Context, lat, lng, radiusMeters float64, category, excludeID string) ([]cluster.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type scored struct {
		c cluster.Candidate
		d float64
	}
	var hits []scored
	for _, rp := range m.reports {
		if rp.ID == excludeID || string(rp.Category) != category {
			continue
		}
		d := distanceMeters(lat, lng, rp.Latitude, rp.Longitude)
		if d > radiusMeters {
			continue
		}
		hits = append(hits, scored{cluster.Candidate{
			ID:               rp.ID,
			IsRepresentative: rp.IsRepresentative,
			RepresentativeID: rp.RepresentativeID,
		}, d})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].d < hits[j].d })
	out := make([]cluster.Candidate, len(hits))
	for i, h := range hits {
		out[i] = h.c
	}
	return out, nil
}

func (m *memStore) Anchor(_ context.Context, id string) (*cluster.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rp, ok := m.reports[id]
	if !ok {
		return nil, nil
	}
	return &cluster.Candidate{
		ID:               rp.ID,
		IsRepresentative: rp.IsRepresentative,
		RepresentativeID: rp.RepresentativeID,
	}, nil
}

func (m *memStore) LinkMember(_ context.Context, representativeID, memberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rep, ok := m.reports[representativeID]
	if !ok {
		return cluster.ErrAnchorGone
	}
	if rep.RepresentativeID != nil {
		return cluster.ErrNotRepresentative
	}
	member, ok := m.reports[memberID]
	if !ok || member.IsRepresentative {
		return cluster.ErrNotLinkable
	}
	rep.IsRepresentative = true
	rep.MemberVersion++
	for _, id := range m.members[representativeID] {
		if id == memberID {
			return nil
		}
	}
	m.members[representativeID] = append(m.members[representativeID], memberID)
	repID := representativeID
	member.RepresentativeID = &repID
	return nil
}

func (m *memStore) MemberIDs(_ context.Context, representativeID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.members[representativeID]...), nil
}

func (m *memStore) Members(_ context.Context, representativeID string) ([]*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Report
	for _, id := range m.members[representativeID] {
		cp := *m.reports[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) ApplyStatusFields(_ context.Context, id string, status, remark, department *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rp, ok := m.reports[id]
	if !ok {
		return sql.ErrNoRows
	}
	if status != nil {
		rp.Status = Status(*status)
	}
	if remark != nil {
		rp.Remark = *remark
	}
	if department != nil {
		rp.Department = *department
	}
	return nil
}

func (m *memStore) AppendHistory(_ context.Context, reportID, status, remark, updatedBy string, isCascade bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[reportID] = append(m.history[reportID], &StatusHistoryEntry{
		ID:        int64(len(m.history[reportID]) + 1),
		ReportID:  reportID,
		Status:    Status(status),
		Remark:    remark,
		UpdatedBy: updatedBy,
		IsCascade: isCascade,
		CreatedAt: time.Now(),
	})
	return nil
}

func (m *memStore) History(_ context.Context, reportID string) ([]*StatusHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*StatusHistoryEntry(nil), m.history[reportID]...), nil
}

func (m *memStore) List(_ context.Context, f *ListFilter, onlyRepresentatives bool) ([]*Report, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Report
	for _, rp := range m.reports {
		if onlyRepresentatives && !rp.IsRepresentative {
			continue
		}
		if f.Status != nil && rp.Status != *f.Status {
			continue
		}
		if f.Category != nil && rp.Category != *f.Category {
			continue
		}
		if f.ReporterID != nil && rp.ReporterID != *f.ReporterID {
			continue
		}
		cp := *rp
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *memStore) MapPins(_ context.Context) ([]*MapPin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pins []*MapPin
	for _, rp := range m.reports {
		pins = append(pins, &MapPin{ID: rp.ID, Title: rp.Title, Category: rp.Category, Status: rp.Status, Latitude: rp.Latitude, Longitude: rp.Longitude, Upvotes: rp.Upvotes})
	}
	return pins, nil
}

func (m *memStore) Stats(_ context.Context) (*StatsResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &StatsResponse{ByCategory: map[string]int{}}
	for _, rp := range m.reports {
		stats.Total++
		switch rp.Status {
		case StatusPending:
			stats.Pending++
		case StatusInProgress:
			stats.InProgress++
		case StatusResolved:
			stats.Resolved++
		}
		stats.ByCategory[string(rp.Category)]++
	}
	return stats, nil
}

func (m *memStore) ToggleUpvote(_ context.Context, reportID, userID string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rp, ok := m.reports[reportID]
	if !ok {
		return 0, false, sql.ErrNoRows
	}
	set, ok := m.upvotes[reportID]
	if !ok {
		set = make(map[string]struct{})
		m.upvotes[reportID] = set
	}
	var upvoted bool
	if _, has := set[userID]; has {
		delete(set, userID)
	} else {
		set[userID] = struct{}{}
		upvoted = true
	}
	rp.Upvotes = len(set)
	return rp.Upvotes, upvoted, nil
}

func (m *memStore) SetVision(_ context.Context, id, detectedCategory string, verified bool, confidence float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rp, ok := m.reports[id]
	if !ok {
		return sql.ErrNoRows
	}
	rp.VisionCategory = &detectedCategory
	rp.VisionVerified = &verified
	rp.VisionConfidence = &confidence
	return nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rp, ok := m.reports[id]
	if !ok {
		return sql.ErrNoRows
	}
	if rp.IsRepresentative {
		for _, memberID := range m.members[id] {
			m.reports[memberID].RepresentativeID = nil
		}
		delete(m.members, id)
	} else if rp.RepresentativeID != nil {
		repID := *rp.RepresentativeID
		rep := m.reports[repID]
		rep.MemberVersion++
		remaining := m.members[repID][:0]
		for _, memberID := range m.members[repID] {
			if memberID != id {
				remaining = append(remaining, memberID)
			}
		}
		m.members[repID] = remaining
		rep.IsRepresentative = len(remaining) > 0
	}
	delete(m.reports, id)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events map[string][]notification.Event
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{events: make(map[string][]notification.Event)}
}

func (n *recordingNotifier) Publish(_ context.Context, userID string, event notification.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events[userID] = append(n.events[userID], event)
}

type fakeDirectory struct {
	users map[string]*user.User
}

func (d *fakeDirectory) GetByID(_ context.Context, id string) (*user.User, error) {
	if d.users == nil {
		return nil, nil
	}
	return d.users[id], nil
}

func newTestService(store Store, notifier Notifier) *Service {
	return NewService(store, &fakeDirectory{}, notifier, nil, nil, 100, zap.NewNop())
}

// 50 meters of latitude, well inside the 100m test radius
const latStep50m = 0.00045

func createReq(category Category, lat, lng float64) *CreateReportRequest {
	return &CreateReportRequest{
		Title:       "Broken infrastructure",
		Description: "Needs attention",
		Category:    category,
		Latitude:    lat,
		Longitude:   lng,
	}
}

func TestCreateStandaloneWhenNothingNearby(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, newRecordingNotifier())

	rp, err := svc.Create(context.Background(), "u1", createReq(CategoryPothole, 12.97, 77.59))

	require.NoError(t, err)
	assert.Nil(t, rp.RepresentativeID)
	assert.False(t, rp.IsRepresentative)
	assert.Equal(t, StatusPending, rp.Status)
	assert.Equal(t, "Roads & Infrastructure", rp.Department)

	// Creation logs the initial history entry.
	history, err := store.History(context.Background(), rp.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, StatusPending, history[0].Status)
	assert.False(t, history[0].IsCascade)
}

func TestCreateLinksNearbySameCategory(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, newRecordingNotifier())
	ctx := context.Background()

	first, err := svc.Create(ctx, "u1", createReq(CategoryPothole, 12.97, 77.59))
	require.NoError(t, err)

	second, err := svc.Create(ctx, "u2", createReq(CategoryPothole, 12.97+latStep50m, 77.59))
	require.NoError(t, err)

	require.NotNil(t, second.RepresentativeID)
	assert.Equal(t, first.ID, *second.RepresentativeID)
	assert.False(t, second.IsRepresentative)

	rep, err := store.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, rep.IsRepresentative)

	// A third nearby report joins the same root, never the member.
	third, err := svc.Create(ctx, "u3", createReq(CategoryPothole, 12.97+2*latStep50m, 77.59))
	require.NoError(t, err)
	require.NotNil(t, third.RepresentativeID)
	assert.Equal(t, first.ID, *third.RepresentativeID)
}

func TestRelinkingMemberKeepsSetSize(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, newRecordingNotifier())
	ctx := context.Background()

	rep, err := svc.Create(ctx, "u1", createReq(CategoryPothole, 12.97, 77.59))
	require.NoError(t, err)
	member, err := svc.Create(ctx, "u2", createReq(CategoryPothole, 12.97+latStep50m, 77.59))
	require.NoError(t, err)

	ids, err := store.MemberIDs(ctx, rep.ID)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	// Linking the same pair again is a no-op for the set.
	require.NoError(t, store.LinkMember(ctx, rep.ID, member.ID))

	ids, err = store.MemberIDs(ctx, rep.ID)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestCreateDoesNotLinkAcrossCategories(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, newRecordingNotifier())
	ctx := context.Background()

	_, err := svc.Create(ctx, "u1", createReq(CategoryPothole, 12.97, 77.59))
	require.NoError(t, err)

	other, err := svc.Create(ctx, "u2", createReq(CategoryGarbage, 12.97, 77.59))
	require.NoError(t, err)
	assert.Nil(t, other.RepresentativeID)
}

func TestCreateDoesNotLinkBeyondRadius(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, newRecordingNotifier())
	ctx := context.Background()

	_, err := svc.Create(ctx, "u1", createReq(CategoryPothole, 12.97, 77.59))
	require.NoError(t, err)

	// Roughly 250m north of the first report.
	far, err := svc.Create(ctx, "u2", createReq(CategoryPothole, 12.97+5*latStep50m, 77.59))
	require.NoError(t, err)
	assert.Nil(t, far.RepresentativeID)
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(newMemStore(), newRecordingNotifier())
	ctx := context.Background()

	cases := []struct {
		name string
		req  *CreateReportRequest
	}{
		{"missing title", &CreateReportRequest{Description: "d", Category: CategoryPothole}},
		{"missing description", &CreateReportRequest{Title: "t", Category: CategoryPothole}},
		{"unknown category", &CreateReportRequest{Title: "t", Description: "d", Category: "Sinkhole"}},
		{"latitude out of range", &CreateReportRequest{Title: "t", Description: "d", Category: CategoryPothole, Latitude: 91}},
		{"longitude out of range", &CreateReportRequest{Title: "t", Description: "d", Category: CategoryPothole, Longitude: 181}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, "u1", tc.req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestUpdateStatusRequiresAuthority(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, newRecordingNotifier())
	ctx := context.Background()

	rp, err := svc.Create(ctx, "u1", createReq(CategoryPothole, 12.97, 77.59))
	require.NoError(t, err)

	status := StatusResolved
	_, err = svc.UpdateStatus(ctx, rp.ID, "u1", false, &UpdateStatusRequest{Status: &status})

	assert.ErrorIs(t, err, ErrNotAuthority)

	// The report is untouched.
	unchanged, _ := store.GetByID(ctx, rp.ID)
	assert.Equal(t, StatusPending, unchanged.Status)
}

func TestUpdateStatusCascadesToClusterAndNotifies(t *testing.T) {
	store := newMemStore()
	notifier := newRecordingNotifier()
	svc := newTestService(store, notifier)
	ctx := context.Background()

	rep, err := svc.Create(ctx, "u1", createReq(CategoryPothole, 12.97, 77.59))
	require.NoError(t, err)
	m1, err := svc.Create(ctx, "u2", createReq(CategoryPothole, 12.97+latStep50m, 77.59))
	require.NoError(t, err)
	m2, err := svc.Create(ctx, "u3", createReq(CategoryPothole, 12.97-latStep50m, 77.59))
	require.NoError(t, err)

	status := StatusResolved
	remark := "Pothole filled"
	res, err := svc.UpdateStatus(ctx, rep.ID, "auth-1", true, &UpdateStatusRequest{Status: &status, Remark: &remark})

	require.NoError(t, err)
	assert.Equal(t, 2, res.CascadedCount)
	assert.Empty(t, res.FailedMemberIDs)
	assert.Equal(t, StatusResolved, res.Report.Status)

	// Representative and members end in identical state.
	for _, id := range []string{rep.ID, m1.ID, m2.ID} {
		got, _ := store.GetByID(ctx, id)
		assert.Equal(t, StatusResolved, got.Status, id)
		assert.Equal(t, "Pothole filled", got.Remark, id)
	}

	// Each reporter got exactly one event for their own report.
	for userID, reportID := range map[string]string{"u1": rep.ID, "u2": m1.ID, "u3": m2.ID} {
		events := notifier.events[userID]
		require.Len(t, events, 1, userID)
		assert.Equal(t, reportID, events[0].ReportID)
		assert.Equal(t, string(StatusResolved), events[0].Status)
	}
	assert.False(t, notifier.events["u1"][0].IsCascade)
	assert.True(t, notifier.events["u2"][0].IsCascade)
	assert.True(t, notifier.events["u3"][0].IsCascade)

	// Member history entries are cascade-tagged with the prefixed remark.
	history, _ := store.History(ctx, m1.ID)
	require.Len(t, history, 2)
	assert.True(t, history[1].IsCascade)
	assert.Equal(t, "[Cluster update] Pothole filled", history[1].Remark)
}

func TestUpdateStatusOnMemberDoesNotCascade(t *testing.T) {
	store := newMemStore()
	notifier := newRecordingNotifier()
	svc := newTestService(store, notifier)
	ctx := context.Background()

	rep, err := svc.Create(ctx, "u1", createReq(CategoryPothole, 12.97, 77.59))
	require.NoError(t, err)
	member, err := svc.Create(ctx, "u2", createReq(CategoryPothole, 12.97+latStep50m, 77.59))
	require.NoError(t, err)

	status := StatusInProgress
	res, err := svc.UpdateStatus(ctx, member.ID, "auth-1", true, &UpdateStatusRequest{Status: &status})

	require.NoError(t, err)
	assert.Equal(t, 0, res.CascadedCount)

	repNow, _ := store.GetByID(ctx, rep.ID)
	assert.Equal(t, StatusPending, repNow.Status)
	assert.Empty(t, notifier.events["u1"])
	require.Len(t, notifier.events["u2"], 1)
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	svc := newTestService(newMemStore(), newRecordingNotifier())

	bogus := Status("Teleported")
	_, err := svc.UpdateStatus(context.Background(), "any", "auth-1", true, &UpdateStatusRequest{Status: &bogus})

	assert.ErrorIs(t, err, ErrValidation)
}

func TestUpdateStatusNotFound(t *testing.T) {
	svc := newTestService(newMemStore(), newRecordingNotifier())

	status := StatusResolved
	_, err := svc.UpdateStatus(context.Background(), "missing", "auth-1", true, &UpdateStatusRequest{Status: &status})

	assert.ErrorIs(t, err, ErrReportNotFound)
}

func TestClusterViewRedactsIdentityForCitizens(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, newRecordingNotifier())
	ctx := context.Background()

	rep, err := svc.Create(ctx, "u1", createReq(CategoryPothole, 12.97, 77.59))
	require.NoError(t, err)
	_, err = svc.Create(ctx, "u2", createReq(CategoryPothole, 12.97+latStep50m, 77.59))
	require.NoError(t, err)

	view, err := svc.ClusterView(ctx, rep.ID, false)

	require.NoError(t, err)
	assert.True(t, view.IsInCluster)
	assert.Equal(t, 2, view.TotalReports)
	for _, reporter := range view.Reporters {
		assert.Nil(t, reporter.Name)
		assert.Nil(t, reporter.Email)
		assert.Nil(t, reporter.Phone)
	}
}

func TestClusterViewIncludesIdentityForAuthority(t *testing.T) {
	store := newMemStore()
	directory := &fakeDirectory{users: map[string]*user.User{
		"u1": {ID: "u1", Name: "Asha", Email: "asha@example.com", Phone: "111"},
		"u2": {ID: "u2", Name: "Ravi", Email: "ravi@example.com", Phone: "222"},
	}}
	svc := NewService(store, directory, newRecordingNotifier(), nil, nil, 100, zap.NewNop())
	ctx := context.Background()

	rep, err := svc.Create(ctx, "u1", createReq(CategoryPothole, 12.97, 77.59))
	require.NoError(t, err)
	member, err := svc.Create(ctx, "u2", createReq(CategoryPothole, 12.97+latStep50m, 77.59))
	require.NoError(t, err)

	// The member resolves to the same cluster view as the representative.
	view, err := svc.ClusterView(ctx, member.ID, true)

	require.NoError(t, err)
	assert.True(t, view.IsInCluster)
	assert.Equal(t, rep.ID, view.RepresentativeID)
	require.Len(t, view.Reporters, 2)
	require.NotNil(t, view.Reporters[0].Name)
	assert.Equal(t, "Asha", *view.Reporters[0].Name)
	require.NotNil(t, view.Reporters[1].Name)
	assert.Equal(t, "Ravi", *view.Reporters[1].Name)
}

func TestClusterViewStandaloneReport(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, newRecordingNotifier())
	ctx := context.Background()

	rp, err := svc.Create(ctx, "u1", createReq(CategoryPothole, 12.97, 77.59))
	require.NoError(t, err)

	view, err := svc.ClusterView(ctx, rp.ID, false)

	require.NoError(t, err)
	assert.False(t, view.IsInCluster)
}

func TestUpvoteToggle(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, newRecordingNotifier())
	ctx := context.Background()

	rp, err := svc.Create(ctx, "u1", createReq(CategoryPothole, 12.97, 77.59))
	require.NoError(t, err)

	res, err := svc.Upvote(ctx, rp.ID, "u2")
	require.NoError(t, err)
	assert.True(t, res.Upvoted)
	assert.Equal(t, 1, res.Upvotes)

	res, err = svc.Upvote(ctx, rp.ID, "u2")
	require.NoError(t, err)
	assert.False(t, res.Upvoted)
	assert.Equal(t, 0, res.Upvotes)
}

func TestUpvoteNotFound(t *testing.T) {
	svc := newTestService(newMemStore(), newRecordingNotifier())

	_, err := svc.Upvote(context.Background(), "missing", "u1")

	assert.ErrorIs(t, err, ErrReportNotFound)
}

func TestDeleteRequiresAuthority(t *testing.T) {
	svc := newTestService(newMemStore(), newRecordingNotifier())

	err := svc.Delete(context.Background(), "any", false)

	assert.ErrorIs(t, err, ErrNotAuthority)
}

func TestDeleteRepresentativeRevertsMembersToStandalone(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, newRecordingNotifier())
	ctx := context.Background()

	rep, err := svc.Create(ctx, "u1", createReq(CategoryPothole, 12.97, 77.59))
	require.NoError(t, err)
	member, err := svc.Create(ctx, "u2", createReq(CategoryPothole, 12.97+latStep50m, 77.59))
	require.NoError(t, err)

	err = svc.Delete(ctx, rep.ID, true)
	require.NoError(t, err)

	gone, _ := store.GetByID(ctx, rep.ID)
	assert.Nil(t, gone)

	orphan, _ := store.GetByID(ctx, member.ID)
	require.NotNil(t, orphan)
	assert.Nil(t, orphan.RepresentativeID)
	assert.False(t, orphan.IsRepresentative)
}

func TestGetNotFound(t *testing.T) {
	svc := newTestService(newMemStore(), newRecordingNotifier())

	_, _, err := svc.Get(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrReportNotFound)
}

func TestGetReturnsHistory(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, newRecordingNotifier())
	ctx := context.Background()

	created, err := svc.Create(ctx, "u1", createReq(CategoryStreetlight, 12.97, 77.59))
	require.NoError(t, err)

	status := StatusInProgress
	_, err = svc.UpdateStatus(ctx, created.ID, "auth-1", true, &UpdateStatusRequest{Status: &status})
	require.NoError(t, err)

	rp, history, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, rp.Status)
	require.Len(t, history, 2)
	assert.Equal(t, StatusPending, history[0].Status)
	assert.Equal(t, StatusInProgress, history[1].Status)
}

type fakeVision struct {
	detected string
	verified bool
	err      error
}

func (v *fakeVision) Classify(_ context.Context, _, _ string) (string, bool, float64, error) {
	if v.err != nil {
		return "", false, 0, v.err
	}
	return v.detected, v.verified, 0.93, nil
}

func TestCreateStoresVisionResult(t *testing.T) {
	store := newMemStore()
	vision := &fakeVision{detected: "Pothole", verified: true}
	svc := NewService(store, &fakeDirectory{}, newRecordingNotifier(), vision, nil, 100, zap.NewNop())

	req := createReq(CategoryPothole, 12.97, 77.59)
	req.ImageURL = "https://img.example.com/p.jpg"
	rp, err := svc.Create(context.Background(), "u1", req)

	require.NoError(t, err)
	require.NotNil(t, rp.VisionVerified)
	assert.True(t, *rp.VisionVerified)
	require.NotNil(t, rp.VisionCategory)
	assert.Equal(t, "Pothole", *rp.VisionCategory)
}

func TestCreateSurvivesVisionFailure(t *testing.T) {
	store := newMemStore()
	vision := &fakeVision{err: fmt.Errorf("service unavailable")}
	svc := NewService(store, &fakeDirectory{}, newRecordingNotifier(), vision, nil, 100, zap.NewNop())

	req := createReq(CategoryPothole, 12.97, 77.59)
	req.ImageURL = "https://img.example.com/p.jpg"
	rp, err := svc.Create(context.Background(), "u1", req)

	require.NoError(t, err)
	assert.Nil(t, rp.VisionVerified)
}
