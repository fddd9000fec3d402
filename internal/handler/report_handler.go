package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/face-attendance-api/internal/service"
	appErrors "github.com/noah-isme/face-attendance-api/pkg/errors"
	"github.com/noah-isme/face-attendance-api/pkg/jobs"
	"github.com/noah-isme/face-attendance-api/pkg/response"
)

// ReportHandler exposes asynchronous report export endpoints.
type ReportHandler struct {
	exports *service.ExportService
	queue   *jobs.Queue
}

// NewReportHandler constructs ReportHandler.
func NewReportHandler(exports *service.ExportService, queue *jobs.Queue) *ReportHandler {
	return &ReportHandler{exports: exports, queue: queue}
}

// ExportReportRequest is the body for queueing a report export. Query
// parameters of the same names are accepted as a fallback.
type ExportReportRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	StudentID string `json:"student_id"`
	Format    string `json:"format"`
}

// Export godoc
// @Summary Queue an attendance report export
// @Tags Reports
// @Accept json
// @Produce json
// @Param payload body ExportReportRequest false "Export request"
// @Param format query string false "Export format (csv or pdf)"
// @Param from query string false "Range start (YYYY-MM-DD)"
// @Param to query string false "Range end (YYYY-MM-DD)"
// @Param studentId query string false "Restrict to one student"
// @Success 202 {object} response.Envelope
// @Router /attendance/report/export [post]
func (h *ReportHandler) Export(c *gin.Context) {
	req := service.ReportRequest{
		From:      c.Query("from"),
		To:        c.Query("to"),
		StudentID: c.Query("studentId"),
	}
	format := c.DefaultQuery("format", "csv")

	var body ExportReportRequest
	if err := c.ShouldBindJSON(&body); err == nil {
		if body.From != "" {
			req.From = body.From
		}
		if body.To != "" {
			req.To = body.To
		}
		if body.StudentID != "" {
			req.StudentID = body.StudentID
		}
		if body.Format != "" {
			format = body.Format
		}
	}

	job, err := h.exports.CreateJob(format, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.queue.Enqueue(jobs.Job{ID: job.ID, Type: "report-export"}); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue export"))
		return
	}
	response.JSON(c, http.StatusAccepted, job, nil)
}

// Status godoc
// @Summary Get export job status
// @Tags Reports
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /attendance/report/export/{id} [get]
func (h *ReportHandler) Status(c *gin.Context) {
	job, err := h.exports.GetJob(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}

// Download godoc
// @Summary Download an exported report via signed token
// @Tags Reports
// @Produce octet-stream
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Router /attendance/report/download [get]
func (h *ReportHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token required"))
		return
	}
	file, name, err := h.exports.ResolveDownload(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read export file"))
		return
	}

	contentType := "text/csv"
	if strings.HasSuffix(name, ".pdf") {
		contentType = "application/pdf"
	}
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.DataFromReader(http.StatusOK, info.Size(), contentType, file, nil)
}
