package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable-engine/internal/dto"
	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/scheduler"
	"github.com/noah-isme/sma-timetable-engine/internal/service"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
	"github.com/noah-isme/sma-timetable-engine/pkg/response"
)

type generationManager interface {
	Create(ctx context.Context, req dto.CreateGenerationRequest) (*models.TimetableGeneration, error)
	List(ctx context.Context, query dto.GenerationListQuery) ([]models.TimetableGeneration, error)
	Get(ctx context.Context, id string) (*dto.GenerationDetail, error)
	Report(ctx context.Context, id string) (*scheduler.ScheduleReport, error)
	Lessons(ctx context.Context, id string, query dto.LessonQuery) ([]models.ScheduledLesson, error)
	Cancel(ctx context.Context, id string) (*models.TimetableGeneration, error)
	Publish(ctx context.Context, id string) (*models.TimetableGeneration, error)
	Archive(ctx context.Context, id string) (*models.TimetableGeneration, error)
	Delete(ctx context.Context, id string) error
}

type optimizerSubmitter interface {
	Submit(ctx context.Context, req dto.CreateOptimizerGenerationRequest) (*models.TimetableGeneration, error)
}

type timetableExporter interface {
	Export(ctx context.Context, generationID string, query dto.LessonQuery) (*service.ExportResult, error)
}

// GenerationHandler exposes timetable generation endpoints.
type GenerationHandler struct {
	generations generationManager
	optimizer   optimizerSubmitter
	exporter    timetableExporter
}

// NewGenerationHandler constructs the handler.
func NewGenerationHandler(generations *service.GenerationService, optimizer *service.OptimizerService, exporter *service.ExportService) *GenerationHandler {
	return &GenerationHandler{generations: generations, optimizer: optimizer, exporter: exporter}
}

// Create godoc
// @Summary Start a greedy timetable generation
// @Description Creates a draft generation for the term and queues the allocator. Poll the generation for its status.
// @Tags Timetables
// @Accept json
// @Produce json
// @Param payload body dto.CreateGenerationRequest true "Generation payload"
// @Success 202 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /timetables/generations [post]
func (h *GenerationHandler) Create(c *gin.Context) {
	var req dto.CreateGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid generation payload"))
		return
	}
	generation, err := h.generations.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, generation)
}

// CreateOptimizer godoc
// @Summary Submit a term to the external optimizer
// @Tags Timetables
// @Accept json
// @Produce json
// @Param payload body dto.CreateOptimizerGenerationRequest true "Optimizer payload"
// @Success 202 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /timetables/generations/optimizer [post]
func (h *GenerationHandler) CreateOptimizer(c *gin.Context) {
	var req dto.CreateOptimizerGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid optimizer payload"))
		return
	}
	generation, err := h.optimizer.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, generation)
}

// List godoc
// @Summary List generations of a term
// @Tags Timetables
// @Produce json
// @Param termId query string true "Term ID"
// @Success 200 {object} response.Envelope
// @Router /timetables/generations [get]
func (h *GenerationHandler) List(c *gin.Context) {
	var query dto.GenerationListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	result, err := h.generations.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Get godoc
// @Summary Get a generation with its report and failures
// @Tags Timetables
// @Produce json
// @Param id path string true "Generation ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /timetables/generations/{id} [get]
func (h *GenerationHandler) Get(c *gin.Context) {
	result, err := h.generations.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Report godoc
// @Summary Audit a generation
// @Description Re-audits the stored lessons. Results are cached until the generation changes.
// @Tags Timetables
// @Produce json
// @Param id path string true "Generation ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /timetables/generations/{id}/report [get]
func (h *GenerationHandler) Report(c *gin.Context) {
	report, err := h.generations.Report(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Lessons godoc
// @Summary List the lessons of a generation
// @Tags Timetables
// @Produce json
// @Param id path string true "Generation ID"
// @Param teacherId query string false "Teacher ID"
// @Param classId query string false "Class offering ID"
// @Param from query string false "First date (YYYY-MM-DD)"
// @Param to query string false "Last date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /timetables/generations/{id}/lessons [get]
func (h *GenerationHandler) Lessons(c *gin.Context) {
	var query dto.LessonQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	lessons, err := h.generations.Lessons(c.Request.Context(), c.Param("id"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lessons, nil, map[string]interface{}{"count": len(lessons)})
}

// Export godoc
// @Summary Download the lessons of a generation
// @Tags Timetables
// @Produce text/csv
// @Produce application/pdf
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param id path string true "Generation ID"
// @Param format query string false "csv, pdf or xlsx" default(csv)
// @Success 200 {file} binary
// @Router /timetables/generations/{id}/export [get]
func (h *GenerationHandler) Export(c *gin.Context) {
	var query dto.LessonQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	result, err := h.exporter.Export(c.Request.Context(), c.Param("id"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, result.Filename, result.ContentType, result.Payload)
}

// Cancel godoc
// @Summary Cancel a queued or running generation
// @Tags Timetables
// @Produce json
// @Param id path string true "Generation ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /timetables/generations/{id}/cancel [post]
func (h *GenerationHandler) Cancel(c *gin.Context) {
	h.transition(c, h.generations.Cancel)
}

// Publish godoc
// @Summary Publish a completed generation
// @Description Rejected while the audit finds conflicts or unassigned class offerings.
// @Tags Timetables
// @Produce json
// @Param id path string true "Generation ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /timetables/generations/{id}/publish [post]
func (h *GenerationHandler) Publish(c *gin.Context) {
	h.transition(c, h.generations.Publish)
}

// Archive godoc
// @Summary Archive a published generation
// @Tags Timetables
// @Produce json
// @Param id path string true "Generation ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /timetables/generations/{id}/archive [post]
func (h *GenerationHandler) Archive(c *gin.Context) {
	h.transition(c, h.generations.Archive)
}

// Delete godoc
// @Summary Delete an unpublished generation and its lessons
// @Tags Timetables
// @Param id path string true "Generation ID"
// @Success 204
// @Failure 409 {object} response.Envelope
// @Router /timetables/generations/{id} [delete]
func (h *GenerationHandler) Delete(c *gin.Context) {
	if err := h.generations.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func (h *GenerationHandler) transition(c *gin.Context, fn func(context.Context, string) (*models.TimetableGeneration, error)) {
	generation, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, generation, nil)
}
