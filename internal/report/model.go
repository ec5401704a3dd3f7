package report

import "time"

// Category classifies the kind of infrastructure defect being reported
type Category string

const (
	CategoryPothole      Category = "Pothole"
	CategoryStreetlight  Category = "Streetlight"
	CategoryGarbage      Category = "Garbage"
	CategoryDrainage     Category = "Drainage"
	CategoryWaterLeakage Category = "WaterLeakage"
	CategoryOther        Category = "Other"
)

// Valid reports whether c is a known category
func (c Category) Valid() bool {
	switch c {
	case CategoryPothole, CategoryStreetlight, CategoryGarbage,
		CategoryDrainage, CategoryWaterLeakage, CategoryOther:
		return true
	}
	return false
}

// Status is the lifecycle state of a report
type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "InProgress"
	StatusResolved   Status = "Resolved"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusResolved:
		return true
	}
	return false
}

// departmentByCategory maps each category to the department that
// handles it by default. Authorities can reassign later.
var departmentByCategory = map[Category]string{
	CategoryPothole:      "Roads & Infrastructure",
	CategoryStreetlight:  "Electricity Department",
	CategoryGarbage:      "Solid Waste Management",
	CategoryDrainage:     "Water & Sanitation",
	CategoryWaterLeakage: "Water & Sanitation",
	CategoryOther:        "General Administration",
}

// DepartmentFor returns the default department for a category
func DepartmentFor(c Category) string {
	if d, ok := departmentByCategory[c]; ok {
		return d
	}
	return "General Administration"
}

// Report represents a single citizen submission.
//
// The clustering triple (RepresentativeID, IsRepresentative, member set)
// admits exactly three states: standalone (no representative, not a
// representative), representative (no representative, flag set, members
// linked), and member (RepresentativeID set, no members of its own).
type Report struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    Category `json:"category"`
	Status      Status   `json:"status"`
	Department  string   `json:"department"`
	Remark      string   `json:"remark"`
	ImageURL    string   `json:"image_url,omitempty"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`

	ReporterID string `json:"reporter_id"`
	Upvotes    int    `json:"upvotes"`

	RepresentativeID *string `json:"representative_id,omitempty"`
	IsRepresentative bool    `json:"is_representative"`
	// MemberVersion is bumped on every member-set mutation and is the
	// optimistic concurrency token for linkage.
	MemberVersion int `json:"-"`

	// Image classification metadata from the external vision service.
	VisionCategory   *string  `json:"vision_category,omitempty"`
	VisionVerified   *bool    `json:"vision_verified,omitempty"`
	VisionConfidence *float64 `json:"vision_confidence,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusHistoryEntry is one immutable line of a report's status log
type StatusHistoryEntry struct {
	ID        int64     `json:"id"`
	ReportID  string    `json:"report_id"`
	Status    Status    `json:"status"`
	Remark    string    `json:"remark"`
	UpdatedBy string    `json:"updated_by"`
	IsCascade bool      `json:"is_cascade"`
	CreatedAt time.Time `json:"created_at"`
}
