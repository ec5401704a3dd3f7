package report

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	"github.com/civicplus/civicplus-backend/internal/report/cluster"
)

// reportColumns is the scan list shared by every full-row query.
const reportColumns = `id, title, description, category, status, department, remark, image_url,
	latitude, longitude, address, reporter_id, upvotes,
	representative_id, is_representative, member_version,
	vision_category, vision_verified, vision_confidence,
	created_at, updated_at`

// Repository handles report data persistence
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new report repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func scanReport(row interface{ Scan(...interface{}) error }) (*Report, error) {
	rp := &Report{}
	err := row.Scan(
		&rp.ID, &rp.Title, &rp.Description, &rp.Category, &rp.Status,
		&rp.Department, &rp.Remark, &rp.ImageURL,
		&rp.Latitude, &rp.Longitude, &rp.Address, &rp.ReporterID, &rp.Upvotes,
		&rp.RepresentativeID, &rp.IsRepresentative, &rp.MemberVersion,
		&rp.VisionCategory, &rp.VisionVerified, &rp.VisionConfidence,
		&rp.CreatedAt, &rp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rp, nil
}

// Create inserts a new report into the database
func (r *Repository) Create(ctx context.Context, rp *Report) (*Report, error) {
	query := `
		INSERT INTO reports (id, title, description, category, status, department, image_url,
			latitude, longitude, address, reporter_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + reportColumns

	created, err := scanReport(r.db.QueryRowContext(ctx, query,
		rp.ID, rp.Title, rp.Description, rp.Category, rp.Status, rp.Department,
		rp.ImageURL, rp.Latitude, rp.Longitude, rp.Address, rp.ReporterID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create report: %w", err)
	}
	return created, nil
}

// GetByID retrieves a report by its ID
func (r *Repository) GetByID(ctx context.Context, id string) (*Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE id = $1`

	rp, err := scanReport(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return rp, nil
}

const earthRadiusMeters = 6371000.0

// haversineSQL computes the great-circle distance in meters between a row's
// point and the ($lat, $lng) placeholders. Placeholders are numbered by the
// caller.
func haversineSQL(latArg, lngArg string) string {
	return fmt.Sprintf(`2 * %f * asin(sqrt(
		pow(sin(radians(latitude - %s) / 2), 2) +
		cos(radians(%s)) * cos(radians(latitude)) *
		pow(sin(radians(longitude - %s) / 2), 2)))`,
		earthRadiusMeters, latArg, latArg, lngArg)
}

// boundingBox returns the lat/lng envelope for a radius around a point.
// It only prefilters; the exact radius is enforced by the distance term.
func boundingBox(lat, lng, radiusMeters float64) (latMin, latMax, lngMin, lngMax float64) {
	latDelta := radiusMeters / earthRadiusMeters * 180 / math.Pi
	lngDelta := latDelta
	if cosLat := math.Cos(lat * math.Pi / 180); cosLat > 1e-6 {
		lngDelta = latDelta / cosLat
	} else {
		// Near the poles every longitude is within range.
		lngDelta = 180
	}
	return lat - latDelta, lat + latDelta, lng - lngDelta, lng + lngDelta
}

// lngPredicate builds the longitude prefilter for an envelope that may cross
// the antimeridian. A crossing envelope becomes the union of the two ranges
// meeting at ±180, expressed as an OR on the same pair of placeholders. The
// returned bounds are normalized into [-180, 180].
func lngPredicate(lngMin, lngMax float64, loArg, hiArg string) (string, float64, float64) {
	switch {
	case lngMax-lngMin >= 360:
		return fmt.Sprintf("longitude BETWEEN %s AND %s", loArg, hiArg), -180, 180
	case lngMin < -180:
		return fmt.Sprintf("(longitude >= %s OR longitude <= %s)", loArg, hiArg), lngMin + 360, lngMax
	case lngMax > 180:
		return fmt.Sprintf("(longitude >= %s OR longitude <= %s)", loArg, hiArg), lngMin, lngMax - 360
	}
	return fmt.Sprintf("longitude BETWEEN %s AND %s", loArg, hiArg), lngMin, lngMax
}

// FindNearby returns candidate reports of the given category within
// radiusMeters of the point, closest first. It never returns an error for an
// empty result.
func (r *Repository) FindNearby(ctx context.Context, lat, lng, radiusMeters float64, category, excludeID string) ([]cluster.Candidate, error) {
	latMin, latMax, lngMin, lngMax := boundingBox(lat, lng, radiusMeters)
	lngCond, lngLo, lngHi := lngPredicate(lngMin, lngMax, "$8", "$9")

	distance := haversineSQL("$4", "$5")
	query := `
		SELECT id, is_representative, representative_id
		FROM reports
		WHERE category = $1 AND id <> $2
		  AND latitude BETWEEN $6 AND $7
		  AND ` + lngCond + `
		  AND ` + distance + ` <= $3
		ORDER BY ` + distance + ` ASC`
	rows, err := r.db.QueryContext(ctx, query, category, excludeID, radiusMeters,
		lat, lng, latMin, latMax, lngLo, lngHi)
	if err != nil {
		return nil, fmt.Errorf("failed to query nearby reports: %w", err)
	}
	defer rows.Close()

	var candidates []cluster.Candidate
	for rows.Next() {
		var c cluster.Candidate
		if err := rows.Scan(&c.ID, &c.IsRepresentative, &c.RepresentativeID); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// Anchor re-reads the clustering state of a single report
func (r *Repository) Anchor(ctx context.Context, id string) (*cluster.Candidate, error) {
	query := `SELECT id, is_representative, representative_id FROM reports WHERE id = $1`

	c := &cluster.Candidate{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.IsRepresentative, &c.RepresentativeID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get anchor: %w", err)
	}
	return c, nil
}

// LinkMember links memberID under representativeID. The member-set write is
// guarded by the representative's member_version, so a concurrent linkage
// surfaces as cluster.ErrConflict and the caller re-resolves and retries.
// The join-table insert is idempotent; re-linking an existing member is a
// no-op for the set.
func (r *Repository) LinkMember(ctx context.Context, representativeID, memberID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin linkage: %w", err)
	}
	defer tx.Rollback()

	var repOfRep sql.NullString
	var version int
	err = tx.QueryRowContext(ctx,
		`SELECT representative_id, member_version FROM reports WHERE id = $1`,
		representativeID,
	).Scan(&repOfRep, &version)
	if err != nil {
		if err == sql.ErrNoRows {
			return cluster.ErrAnchorGone
		}
		return fmt.Errorf("failed to read representative: %w", err)
	}
	// One level of indirection only: never hang a member off another member.
	if repOfRep.Valid {
		return cluster.ErrNotRepresentative
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE reports
		SET is_representative = TRUE,
		    member_version = member_version + 1,
		    updated_at = now()
		WHERE id = $1 AND member_version = $2`,
		representativeID, version)
	if err != nil {
		return fmt.Errorf("failed to update representative: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return cluster.ErrConflict
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO report_members (representative_id, member_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		representativeID, memberID); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}

	// A report that is itself a representative must never become a member.
	res, err = tx.ExecContext(ctx, `
		UPDATE reports
		SET representative_id = $1, updated_at = now()
		WHERE id = $2 AND is_representative = FALSE`,
		representativeID, memberID)
	if err != nil {
		return fmt.Errorf("failed to link member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return cluster.ErrNotLinkable
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit linkage: %w", err)
	}
	return nil
}

// MemberIDs returns the IDs linked under a representative, oldest link first
func (r *Repository) MemberIDs(ctx context.Context, representativeID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT member_id FROM report_members
		WHERE representative_id = $1
		ORDER BY linked_at`,
		representativeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list member ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Members returns the full member rows linked under a representative
func (r *Repository) Members(ctx context.Context, representativeID string) ([]*Report, error) {
	query := `
		SELECT ` + reportColumns + `
		FROM reports
		JOIN report_members rm ON rm.member_id = reports.id
		WHERE rm.representative_id = $1
		ORDER BY rm.linked_at`

	rows, err := r.db.QueryContext(ctx, query, representativeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*Report
	for rows.Next() {
		rp, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, rp)
	}
	return members, rows.Err()
}

// ApplyStatusFields overwrites only the supplied fields on a report
func (r *Repository) ApplyStatusFields(ctx context.Context, id string, status, remark, department *string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE reports
		SET status = COALESCE($2, status),
		    remark = COALESCE($3, remark),
		    department = COALESCE($4, department),
		    updated_at = now()
		WHERE id = $1`,
		id, status, remark, department)
	if err != nil {
		return fmt.Errorf("failed to update report fields: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AppendHistory appends one immutable status-history entry
func (r *Repository) AppendHistory(ctx context.Context, reportID, status, remark, updatedBy string, isCascade bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO status_history (report_id, status, remark, updated_by, is_cascade)
		VALUES ($1, $2, $3, $4, $5)`,
		reportID, status, remark, updatedBy, isCascade)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// History returns a report's status log in append order
func (r *Repository) History(ctx context.Context, reportID string) ([]*StatusHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, report_id, status, remark, updated_by, is_cascade, created_at
		FROM status_history
		WHERE report_id = $1
		ORDER BY id`,
		reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var entries []*StatusHistoryEntry
	for rows.Next() {
		e := &StatusHistoryEntry{}
		if err := rows.Scan(&e.ID, &e.ReportID, &e.Status, &e.Remark, &e.UpdatedBy, &e.IsCascade, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// buildFilter translates a ListFilter into a WHERE clause and args
func buildFilter(f *ListFilter, onlyRepresentatives bool) (string, []interface{}) {
	var conds []string
	var args []interface{}

	add := func(cond string, value interface{}) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.Category != nil {
		add("category = $%d", *f.Category)
	}
	if f.Department != nil {
		add("department = $%d", *f.Department)
	}
	if f.ReporterID != nil {
		add("reporter_id = $%d", *f.ReporterID)
	}
	if onlyRepresentatives {
		conds = append(conds, "is_representative = TRUE")
	}
	if f.Latitude != nil && f.Longitude != nil && f.RadiusMeters != nil {
		args = append(args, *f.Latitude, *f.Longitude, *f.RadiusMeters)
		latArg := fmt.Sprintf("$%d", len(args)-2)
		lngArg := fmt.Sprintf("$%d", len(args)-1)
		radArg := fmt.Sprintf("$%d", len(args))
		conds = append(conds, haversineSQL(latArg, lngArg)+" <= "+radArg)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List retrieves reports matching the filter plus the total match count
func (r *Repository) List(ctx context.Context, f *ListFilter, onlyRepresentatives bool) ([]*Report, int, error) {
	where, args := buildFilter(f, onlyRepresentatives)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count reports: %w", err)
	}

	query := fmt.Sprintf(`SELECT `+reportColumns+` FROM reports%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var reports []*Report
	for rows.Next() {
		rp, err := scanReport(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, rp)
	}
	return reports, total, rows.Err()
}

// MapPins returns the lightweight projection for the map view
func (r *Repository) MapPins(ctx context.Context) ([]*MapPin, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, category, status, latitude, longitude, upvotes, created_at
		FROM reports
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query map pins: %w", err)
	}
	defer rows.Close()

	var pins []*MapPin
	for rows.Next() {
		var p MapPin
		var createdAt sql.NullTime
		if err := rows.Scan(&p.ID, &p.Title, &p.Category, &p.Status, &p.Latitude, &p.Longitude, &p.Upvotes, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan map pin: %w", err)
		}
		if createdAt.Valid {
			p.CreatedAt = createdAt.Time.UTC().Format("2006-01-02T15:04:05Z")
		}
		pins = append(pins, &p)
	}
	return pins, rows.Err()
}

// Stats returns report volume totals for authorities
func (r *Repository) Stats(ctx context.Context) (*StatsResponse, error) {
	stats := &StatsResponse{ByCategory: map[string]int{}}

	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'Pending'),
		       COUNT(*) FILTER (WHERE status = 'InProgress'),
		       COUNT(*) FILTER (WHERE status = 'Resolved')
		FROM reports`).Scan(&stats.Total, &stats.Pending, &stats.InProgress, &stats.Resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to count statuses: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT category, COUNT(*)
		FROM reports
		GROUP BY category
		ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to count categories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("failed to scan category count: %w", err)
		}
		stats.ByCategory[category] = count
	}
	return stats, rows.Err()
}

// ToggleUpvote adds or removes the caller's upvote and returns the new count
func (r *Repository) ToggleUpvote(ctx context.Context, reportID, userID string) (int, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin upvote: %w", err)
	}
	defer tx.Rollback()

	// Verify the report exists up front, otherwise the insert below would
	// surface a foreign key violation instead of a not-found.
	var exists string
	err = tx.QueryRowContext(ctx, `SELECT id FROM reports WHERE id = $1`, reportID).Scan(&exists)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, false, sql.ErrNoRows
		}
		return 0, false, fmt.Errorf("failed to read report: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM report_upvotes WHERE report_id = $1 AND user_id = $2`,
		reportID, userID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to clear upvote: %w", err)
	}

	removed, _ := res.RowsAffected()
	upvoted := removed == 0
	if upvoted {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO report_upvotes (report_id, user_id) VALUES ($1, $2)`,
			reportID, userID); err != nil {
			return 0, false, fmt.Errorf("failed to add upvote: %w", err)
		}
	}

	var count int
	err = tx.QueryRowContext(ctx, `
		UPDATE reports
		SET upvotes = (SELECT COUNT(*) FROM report_upvotes WHERE report_id = $1)
		WHERE id = $1
		RETURNING upvotes`,
		reportID).Scan(&count)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, false, sql.ErrNoRows
		}
		return 0, false, fmt.Errorf("failed to update upvote count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("failed to commit upvote: %w", err)
	}
	return count, upvoted, nil
}

// SetVision stores the image classification result on a report
func (r *Repository) SetVision(ctx context.Context, id, detectedCategory string, verified bool, confidence float64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE reports
		SET vision_category = $2, vision_verified = $3, vision_confidence = $4, updated_at = now()
		WHERE id = $1`,
		id, detectedCategory, verified, confidence)
	if err != nil {
		return fmt.Errorf("failed to store vision result: %w", err)
	}
	return nil
}

// Delete removes a report. Deleting a representative reverts its members to
// standalone in the same transaction; deleting a member shrinks the
// representative's set and clears the flag when the set empties.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	var repID sql.NullString
	var isRep bool
	err = tx.QueryRowContext(ctx,
		`SELECT representative_id, is_representative FROM reports WHERE id = $1`,
		id).Scan(&repID, &isRep)
	if err != nil {
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		return fmt.Errorf("failed to read report: %w", err)
	}

	if isRep {
		// Orphan the members rather than promoting one of them.
		if _, err := tx.ExecContext(ctx, `
			UPDATE reports SET representative_id = NULL, updated_at = now()
			WHERE representative_id = $1`, id); err != nil {
			return fmt.Errorf("failed to orphan members: %w", err)
		}
	} else if repID.Valid {
		if _, err := tx.ExecContext(ctx, `
			UPDATE reports
			SET member_version = member_version + 1,
			    is_representative = EXISTS (
			        SELECT 1 FROM report_members
			        WHERE representative_id = $1 AND member_id <> $2
			    ),
			    updated_at = now()
			WHERE id = $1`, repID.String, id); err != nil {
			return fmt.Errorf("failed to shrink member set: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM reports WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}
