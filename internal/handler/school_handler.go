package handler

import (
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/madscience/crmkit/internal/model"
	"github.com/madscience/crmkit/internal/repository"
	"github.com/madscience/crmkit/internal/response"
	"github.com/madscience/crmkit/internal/roster"
	"github.com/madscience/crmkit/internal/service"
	"github.com/madscience/crmkit/internal/validator"
)

const (
	defaultPerPage = 50
	maxPerPage     = 500
	maxImportBytes = 10 << 20
)

// SchoolHandler handles the school CRM endpoints.
type SchoolHandler struct {
	schoolService *service.SchoolService
}

// NewSchoolHandler creates a new SchoolHandler.
func NewSchoolHandler(schoolService *service.SchoolService) *SchoolHandler {
	return &SchoolHandler{schoolService: schoolService}
}

// SchoolRequest is the payload for creating or updating a school.
type SchoolRequest struct {
	Name    string   `json:"name" binding:"required,max=200"`
	Address string   `json:"address" binding:"max=500"`
	Phone   string   `json:"phone" binding:"max=50"`
	Email   string   `json:"email" binding:"omitempty,email,max=254"`
	Status  string   `json:"status" binding:"omitempty,school_status"`
	Group   string   `json:"group" binding:"max=200"`
	Notes   string   `json:"notes" binding:"max=5000"`
	Lat     *float64 `json:"lat" binding:"omitempty,gte=-90,lte=90"`
	Lon     *float64 `json:"lon" binding:"omitempty,gte=-180,lte=180"`
}

// bindSchool binds and validates a SchoolRequest. lat and lon must be given
// together.
func bindSchool(c *gin.Context, req *SchoolRequest) map[string]string {
	if fields := validator.Bind(c, req); fields != nil {
		return fields
	}
	if (req.Lat == nil) != (req.Lon == nil) {
		return map[string]string{"lat": "lat and lon must be provided together"}
	}
	return nil
}

func (r *SchoolRequest) toModel(id int) *model.School {
	return &model.School{
		ID:      id,
		Name:    strings.TrimSpace(r.Name),
		Address: strings.TrimSpace(r.Address),
		Phone:   strings.TrimSpace(r.Phone),
		Email:   strings.TrimSpace(r.Email),
		Status:  model.SchoolStatus(roster.NormalizeStatus(r.Status)),
		Group:   strings.TrimSpace(r.Group),
		Notes:   r.Notes,
		Lat:     r.Lat,
		Lon:     r.Lon,
	}
}

func filterFromQuery(c *gin.Context) (model.SchoolFilter, bool) {
	f := model.SchoolFilter{
		Group: strings.TrimSpace(c.Query("group")),
		Query: c.Query("q"),
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		switch s := model.SchoolStatus(strings.ToLower(raw)); s {
		case model.SchoolStatusNone, model.SchoolStatusRecent, model.SchoolStatusCurrent:
			f.Status = s
		default:
			return f, false
		}
	}
	return f, true
}

// ListSchools godoc
// GET /api/v1/schools
// Lists schools with pagination, optionally filtered by status, group and q.
func (h *SchoolHandler) ListSchools(c *gin.Context) {
	f, ok := filterFromQuery(c)
	if !ok {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation,
			map[string]string{"status": "status must be one of none, recent, current"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(defaultPerPage)))
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	perPage = min(perPage, maxPerPage)

	schools, total, err := h.schoolService.List(c.Request.Context(), f, page, perPage)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"schools": schools},
		response.NewPagination(page, perPage, total))
}

// GetSchool godoc
// GET /api/v1/schools/:id
func (h *SchoolHandler) GetSchool(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	school, err := h.schoolService.GetByID(c.Request.Context(), id)
	if err != nil {
		failSchool(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"school": school})
}

// CreateSchool godoc
// POST /api/v1/schools
// Creates a school. Schools without coordinates are queued for geocoding.
func (h *SchoolHandler) CreateSchool(c *gin.Context) {
	var req SchoolRequest
	if fields := bindSchool(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	school := req.toModel(0)
	if err := h.schoolService.Create(c.Request.Context(), school); err != nil {
		failSchool(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"school": school})
}

// UpdateSchool godoc
// PUT /api/v1/schools/:id
func (h *SchoolHandler) UpdateSchool(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req SchoolRequest
	if fields := bindSchool(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	school := req.toModel(id)
	if err := h.schoolService.Update(c.Request.Context(), school); err != nil {
		failSchool(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"school": school})
}

// DeleteSchool godoc
// DELETE /api/v1/schools/:id
func (h *SchoolHandler) DeleteSchool(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.schoolService.Delete(c.Request.Context(), id); err != nil {
		failSchool(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": id})
}

// ListGroups godoc
// GET /api/v1/schools/groups
func (h *SchoolHandler) ListGroups(c *gin.Context) {
	groups, err := h.schoolService.Groups(c.Request.Context())
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"groups": groups})
}

// ExportCSV godoc
// GET /api/v1/schools/export.csv
// Streams the filtered schools in the map's CSV layout.
func (h *SchoolHandler) ExportCSV(c *gin.Context) {
	f, ok := filterFromQuery(c)
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrValidation)
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="ns_schools_status.csv"`)
	c.Status(http.StatusOK)
	if err := h.schoolService.ExportCSV(c.Request.Context(), f, c.Writer); err != nil {
		// Headers are gone; the truncated body is all the client gets.
		_ = c.Error(err)
	}
}

// ImportSchools godoc
// POST /api/v1/schools/import
// Imports a .csv or .xlsx upload (multipart field "file").
func (h *SchoolHandler) ImportSchools(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxImportBytes)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Fail(c, http.StatusRequestEntityTooLarge, response.ErrFileTooLarge)
			return
		}
		response.Fail(c, http.StatusBadRequest, response.ErrFileRequired)
		return
	}
	defer file.Close()

	var tbl *roster.Table
	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".csv":
		tbl, err = roster.ReadCSV(file)
	case ".xlsx", ".xlsm":
		tbl, err = roster.ReadWorkbook(file, roster.LoadOptions{})
	default:
		response.Fail(c, http.StatusBadRequest, response.ErrUnsupportedFile)
		return
	}
	if err != nil {
		response.FailWithDetail(c, http.StatusBadRequest, response.ErrUnreadableFile, err.Error())
		return
	}

	res, err := h.schoolService.Import(c.Request.Context(), tbl)
	if err != nil {
		if errors.Is(err, service.ErrNoSchoolColumn) {
			response.FailWithDetail(c, http.StatusBadRequest, response.ErrValidation, err.Error())
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, res)
}

func parseID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id < 1 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return 0, false
	}
	return id, true
}

func failSchool(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSchoolNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, repository.ErrDuplicateSchool):
		response.Fail(c, http.StatusConflict, response.ErrConflict)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
