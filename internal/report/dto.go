package report

import "time"

// CreateReportRequest represents the request to submit a new report
type CreateReportRequest struct {
	Title       string   `json:"title" validate:"required,min=1,max=200"`
	Description string   `json:"description" validate:"required"`
	Category    Category `json:"category" validate:"required"`
	Latitude    float64  `json:"latitude" validate:"required"`
	Longitude   float64  `json:"longitude" validate:"required"`
	Address     string   `json:"address,omitempty"`
	ImageURL    string   `json:"image_url,omitempty"`
}

// UpdateStatusRequest represents an authority decision on a report.
// Pointer fields distinguish "not supplied" from "set to empty".
type UpdateStatusRequest struct {
	Status     *Status `json:"status,omitempty"`
	Remark     *string `json:"remark,omitempty"`
	Department *string `json:"department,omitempty"`
}

// ListFilter narrows report listings
type ListFilter struct {
	Status     *Status
	Category   *Category
	Department *string
	ReporterID *string
	// Geo filter; all three must be set to take effect.
	Latitude     *float64
	Longitude    *float64
	RadiusMeters *float64

	Limit  int
	Offset int
}

// ReportResponse represents the response for a single report
type ReportResponse struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Category         Category `json:"category"`
	Status           Status   `json:"status"`
	Department       string   `json:"department"`
	Remark           string   `json:"remark,omitempty"`
	ImageURL         string   `json:"image_url,omitempty"`
	Latitude         float64  `json:"latitude"`
	Longitude        float64  `json:"longitude"`
	Address          string   `json:"address,omitempty"`
	ReporterID       string   `json:"reporter_id"`
	Upvotes          int      `json:"upvotes"`
	RepresentativeID *string  `json:"representative_id,omitempty"`
	IsRepresentative bool     `json:"is_representative"`
	VisionVerified   *bool    `json:"vision_verified,omitempty"`
	CreatedAt        string   `json:"created_at"`
}

// UpdateStatusResponse carries the cascade outcome alongside the updated
// representative view. FailedMemberIDs is non-empty on partial failure.
type UpdateStatusResponse struct {
	Report          *ReportResponse `json:"report"`
	CascadedCount   int             `json:"cascaded_count"`
	FailedMemberIDs []string        `json:"failed_member_ids,omitempty"`
}

// ClusterReporter describes one report inside a cluster view.
// Contact fields are only populated for authority callers.
type ClusterReporter struct {
	ReportID   string  `json:"report_id"`
	Title      string  `json:"title"`
	Status     Status  `json:"status"`
	ReportedAt string  `json:"reported_at"`
	Name       *string `json:"name,omitempty"`
	Email      *string `json:"email,omitempty"`
	Phone      *string `json:"phone,omitempty"`
}

// ClusterViewResponse represents the cluster a report belongs to
type ClusterViewResponse struct {
	IsInCluster      bool               `json:"is_in_cluster"`
	RepresentativeID string             `json:"representative_id,omitempty"`
	Category         Category           `json:"category,omitempty"`
	Status           Status             `json:"status,omitempty"`
	TotalReports     int                `json:"total_reports,omitempty"`
	Reporters        []*ClusterReporter `json:"reporters,omitempty"`
}

// MapPin is the lightweight projection used by the map endpoint
type MapPin struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Category  Category `json:"category"`
	Status    Status   `json:"status"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Upvotes   int      `json:"upvotes"`
	CreatedAt string   `json:"created_at"`
}

// StatsResponse summarizes report volume for authorities
type StatsResponse struct {
	Total      int            `json:"total"`
	Pending    int            `json:"pending"`
	InProgress int            `json:"in_progress"`
	Resolved   int            `json:"resolved"`
	ByCategory map[string]int `json:"by_category"`
}

// UpvoteResponse is returned by the upvote toggle
type UpvoteResponse struct {
	Upvotes int  `json:"upvotes"`
	Upvoted bool `json:"upvoted"`
}

// ToResponse converts a Report model to a ReportResponse DTO
func (rp *Report) ToResponse() *ReportResponse {
	return &ReportResponse{
		ID:               rp.ID,
		Title:            rp.Title,
		Description:      rp.Description,
		Category:         rp.Category,
		Status:           rp.Status,
		Department:       rp.Department,
		Remark:           rp.Remark,
		ImageURL:         rp.ImageURL,
		Latitude:         rp.Latitude,
		Longitude:        rp.Longitude,
		Address:          rp.Address,
		ReporterID:       rp.ReporterID,
		Upvotes:          rp.Upvotes,
		RepresentativeID: rp.RepresentativeID,
		IsRepresentative: rp.IsRepresentative,
		VisionVerified:   rp.VisionVerified,
		CreatedAt:        rp.CreatedAt.Format(time.RFC3339),
	}
}
