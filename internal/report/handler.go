package report

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/civicplus/civicplus-backend/pkg/middleware"
	"github.com/civicplus/civicplus-backend/pkg/response"
)

// Handler handles HTTP requests for report operations
type Handler struct {
	service *Service
}

// NewHandler creates a new report handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the router for report endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/map", h.Map)
	r.Get("/stats", h.Stats)
	r.Get("/clusters", h.Clusters)
	r.Get("/export", h.Export)
	r.Get("/my", h.My)
	r.Get("/{id}", h.GetByID)
	r.Put("/{id}/status", h.UpdateStatus)
	r.Post("/{id}/upvote", h.Upvote)
	r.Get("/{id}/cluster", h.ClusterView)
	r.Delete("/{id}", h.Delete)

	return r
}

// writeError maps service errors onto the response envelope
func writeError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ErrReportNotFound):
		response.NotFound(w, ErrReportNotFound.Error())
	case errors.Is(err, ErrValidation):
		response.BadRequest(w, err.Error())
	case errors.Is(err, ErrNotAuthority):
		response.Forbidden(w, ErrNotAuthority.Error())
	case errors.Is(err, ErrConflict):
		response.Conflict(w, ErrConflict.Error())
	case errors.Is(err, context.DeadlineExceeded):
		response.GatewayTimeout(w, "Request timed out")
	default:
		response.InternalError(w, fallback)
	}
}

// Create handles POST /reports
// @Summary      Submit a new report
// @Description  Create a civic infrastructure report; nearby reports of the same category are grouped automatically
// @Tags         reports
// @Accept       json
// @Produce      json
// @Param        request body CreateReportRequest true "Report creation request"
// @Success      201 {object} response.APIResponse{data=ReportResponse}
// @Failure      400 {object} response.APIResponse
// @Failure      401 {object} response.APIResponse
// @Router       /reports [post]
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	reporterID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "Authentication required")
		return
	}

	var req CreateReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	rp, err := h.service.Create(r.Context(), reporterID, &req)
	if err != nil {
		writeError(w, err, "Failed to create report")
		return
	}

	response.JSON(w, http.StatusCreated, rp.ToResponse())
}

func parseListFilter(r *http.Request) *ListFilter {
	f := &ListFilter{}
	q := r.URL.Query()

	if v := q.Get("status"); v != "" {
		status := Status(v)
		f.Status = &status
	}
	if v := q.Get("category"); v != "" {
		category := Category(v)
		f.Category = &category
	}
	if v := q.Get("department"); v != "" {
		f.Department = &v
	}
	lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
	lng, lngErr := strconv.ParseFloat(q.Get("lng"), 64)
	radius, radErr := strconv.ParseFloat(q.Get("radius"), 64)
	if latErr == nil && lngErr == nil && radErr == nil {
		f.Latitude, f.Longitude, f.RadiusMeters = &lat, &lng, &radius
	}
	return f
}

func pagination(r *http.Request) (page, perPage int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	return page, perPage
}

func listMeta(page, perPage, total int) *response.Meta {
	return &response.Meta{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: (total + perPage - 1) / perPage,
	}
}

// List handles GET /reports
// @Summary      List all reports
// @Description  Authority-only filtered listing with optional geo filter (lat, lng, radius in meters)
// @Tags         reports
// @Produce      json
// @Param        status query string false "Status filter"
// @Param        category query string false "Category filter"
// @Param        department query string false "Department filter"
// @Success      200 {object} response.APIResponse{data=[]ReportResponse}
// @Failure      403 {object} response.APIResponse
// @Router       /reports [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if !middleware.IsAuthority(r.Context()) {
		response.Forbidden(w, "Authority role required")
		return
	}

	page, perPage := pagination(r)
	reports, total, err := h.service.List(r.Context(), parseListFilter(r), page, perPage)
	if err != nil {
		writeError(w, err, "Failed to list reports")
		return
	}

	responses := make([]*ReportResponse, len(reports))
	for i, rp := range reports {
		responses[i] = rp.ToResponse()
	}
	response.JSONWithMeta(w, http.StatusOK, responses, listMeta(page, perPage, total))
}

// My handles GET /reports/my
// @Summary      List my reports
// @Tags         reports
// @Produce      json
// @Success      200 {object} response.APIResponse{data=[]ReportResponse}
// @Router       /reports/my [get]
func (h *Handler) My(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "Authentication required")
		return
	}

	f := parseListFilter(r)
	f.ReporterID = &userID

	page, perPage := pagination(r)
	reports, total, err := h.service.List(r.Context(), f, page, perPage)
	if err != nil {
		writeError(w, err, "Failed to list reports")
		return
	}

	responses := make([]*ReportResponse, len(reports))
	for i, rp := range reports {
		responses[i] = rp.ToResponse()
	}
	response.JSONWithMeta(w, http.StatusOK, responses, listMeta(page, perPage, total))
}

// Map handles GET /reports/map
// @Summary      Map pins
// @Description  Lightweight projection of every report for map rendering
// @Tags         reports
// @Produce      json
// @Success      200 {object} response.APIResponse{data=[]MapPin}
// @Router       /reports/map [get]
func (h *Handler) Map(w http.ResponseWriter, r *http.Request) {
	pins, err := h.service.MapPins(r.Context())
	if err != nil {
		writeError(w, err, "Failed to load map pins")
		return
	}
	response.JSON(w, http.StatusOK, pins)
}

// Stats handles GET /reports/stats
// @Summary      Report statistics
// @Tags         reports
// @Produce      json
// @Success      200 {object} response.APIResponse{data=StatsResponse}
// @Failure      403 {object} response.APIResponse
// @Router       /reports/stats [get]
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if !middleware.IsAuthority(r.Context()) {
		response.Forbidden(w, "Authority role required")
		return
	}

	stats, err := h.service.Stats(r.Context())
	if err != nil {
		writeError(w, err, "Failed to load stats")
		return
	}
	response.JSON(w, http.StatusOK, stats)
}

// Clusters handles GET /reports/clusters
// @Summary      List clusters
// @Description  Authority-only listing of cluster representatives with group sizes
// @Tags         reports
// @Produce      json
// @Success      200 {object} response.APIResponse
// @Failure      403 {object} response.APIResponse
// @Router       /reports/clusters [get]
func (h *Handler) Clusters(w http.ResponseWriter, r *http.Request) {
	if !middleware.IsAuthority(r.Context()) {
		response.Forbidden(w, "Authority role required")
		return
	}

	page, perPage := pagination(r)
	clusters, total, err := h.service.ListClusters(r.Context(), parseListFilter(r), page, perPage)
	if err != nil {
		writeError(w, err, "Failed to list clusters")
		return
	}
	response.JSONWithMeta(w, http.StatusOK, clusters, listMeta(page, perPage, total))
}

// GetByID handles GET /reports/{id}
// @Summary      Get report by ID
// @Tags         reports
// @Produce      json
// @Param        id path string true "Report ID"
// @Success      200 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /reports/{id} [get]
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rp, history, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, err, "Failed to get report")
		return
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{
		"report":  rp.ToResponse(),
		"history": history,
	})
}

// UpdateStatus handles PUT /reports/{id}/status
// @Summary      Update report status
// @Description  Authority decision on status/remark/department; propagates to every linked report and notifies each reporter
// @Tags         reports
// @Accept       json
// @Produce      json
// @Param        id path string true "Report ID"
// @Param        request body UpdateStatusRequest true "Fields to update"
// @Success      200 {object} response.APIResponse{data=UpdateStatusResponse}
// @Failure      207 {object} response.APIResponse{data=UpdateStatusResponse}
// @Failure      403 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /reports/{id}/status [put]
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	actingUserID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "Authentication required")
		return
	}

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	result, err := h.service.UpdateStatus(r.Context(), id, actingUserID, middleware.IsAuthority(r.Context()), &req)
	if err != nil {
		writeError(w, err, "Failed to update report")
		return
	}

	if len(result.FailedMemberIDs) > 0 {
		response.PartialSuccess(w, result)
		return
	}
	response.JSON(w, http.StatusOK, result)
}

// Upvote handles POST /reports/{id}/upvote
// @Summary      Toggle upvote
// @Tags         reports
// @Produce      json
// @Param        id path string true "Report ID"
// @Success      200 {object} response.APIResponse{data=UpvoteResponse}
// @Failure      404 {object} response.APIResponse
// @Router       /reports/{id}/upvote [post]
func (h *Handler) Upvote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "Authentication required")
		return
	}

	result, err := h.service.Upvote(r.Context(), id, userID)
	if err != nil {
		writeError(w, err, "Failed to toggle upvote")
		return
	}
	response.JSON(w, http.StatusOK, result)
}

// ClusterView handles GET /reports/{id}/cluster
// @Summary      Cluster view for a report
// @Description  Group membership for a report; reporter identities are redacted unless the caller is an authority
// @Tags         reports
// @Produce      json
// @Param        id path string true "Report ID"
// @Success      200 {object} response.APIResponse{data=ClusterViewResponse}
// @Failure      404 {object} response.APIResponse
// @Router       /reports/{id}/cluster [get]
func (h *Handler) ClusterView(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	view, err := h.service.ClusterView(r.Context(), id, middleware.IsAuthority(r.Context()))
	if err != nil {
		writeError(w, err, "Failed to load cluster view")
		return
	}
	response.JSON(w, http.StatusOK, view)
}

// Delete handles DELETE /reports/{id}
// @Summary      Delete a report
// @Description  Authority only. Deleting a representative reverts its members to standalone.
// @Tags         reports
// @Param        id path string true "Report ID"
// @Success      200 {object} response.APIResponse
// @Failure      403 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /reports/{id} [delete]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Delete(r.Context(), id, middleware.IsAuthority(r.Context())); err != nil {
		writeError(w, err, "Failed to delete report")
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"message": "Report deleted successfully"})
}

// Export handles GET /reports/export
// @Summary      Export reports as a spreadsheet
// @Tags         reports
// @Produce      application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Success      200
// @Failure      403 {object} response.APIResponse
// @Router       /reports/export [get]
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	if !middleware.IsAuthority(r.Context()) {
		response.Forbidden(w, "Authority role required")
		return
	}

	file, err := h.service.ExportXLSX(r.Context(), parseListFilter(r))
	if err != nil {
		writeError(w, err, "Failed to export reports")
		return
	}

	filename := "reports-" + time.Now().Format("2006-01-02") + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if err := file.Write(w); err != nil {
		h.service.logger.Warn("failed to stream export")
	}
}
