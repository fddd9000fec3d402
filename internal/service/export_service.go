package service

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/face-attendance-api/internal/models"
	appErrors "github.com/noah-isme/face-attendance-api/pkg/errors"
	"github.com/noah-isme/face-attendance-api/pkg/export"
	"github.com/noah-isme/face-attendance-api/pkg/jobs"
	"github.com/noah-isme/face-attendance-api/pkg/storage"
)

// ExportFormat enumerates supported report export formats.
type ExportFormat string

const (
	FormatCSV ExportFormat = "csv"
	FormatPDF ExportFormat = "pdf"
)

// ExportJobStatus tracks async export progress.
type ExportJobStatus string

const (
	JobQueued   ExportJobStatus = "queued"
	JobRunning  ExportJobStatus = "running"
	JobFinished ExportJobStatus = "finished"
	JobFailed   ExportJobStatus = "failed"
)

// ExportJob describes one report export request and its outcome.
type ExportJob struct {
	ID            string          `json:"id"`
	Format        ExportFormat    `json:"format"`
	Status        ExportJobStatus `json:"status"`
	FileName      string          `json:"file_name,omitempty"`
	DownloadToken string          `json:"download_token,omitempty"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`

	request ReportRequest
}

type reportBuilder interface {
	Report(ctx context.Context, req ReportRequest) (*models.AttendanceReport, error)
}

// ExportService renders attendance reports to CSV or PDF in the background
// and serves the results through signed, expiring download tokens.
type ExportService struct {
	reports reportBuilder
	files   *storage.LocalStorage
	signer  *storage.SignedURLSigner
	csv     *export.CSVExporter
	pdf     *export.PDFExporter
	logger  *zap.Logger

	mu   sync.RWMutex
	jobs map[string]*ExportJob
}

// NewExportService constructs the export service.
func NewExportService(reports reportBuilder, files *storage.LocalStorage, signer *storage.SignedURLSigner, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		reports: reports,
		files:   files,
		signer:  signer,
		csv:     export.NewCSVExporter(),
		pdf:     export.NewPDFExporter(),
		logger:  logger,
		jobs:    make(map[string]*ExportJob),
	}
}

// CreateJob registers a queued export job. The caller is expected to enqueue
// the returned job ID on the worker queue.
func (s *ExportService) CreateJob(format string, req ReportRequest) (*ExportJob, error) {
	f := ExportFormat(strings.ToLower(format))
	if f != FormatCSV && f != FormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format, expected csv or pdf")
	}
	job := &ExportJob{
		ID:        uuid.NewString(),
		Format:    f,
		Status:    JobQueued,
		CreatedAt: time.Now().UTC(),
		request:   req,
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	snapshot := *job
	s.mu.Unlock()
	return &snapshot, nil
}

// GetJob returns a snapshot of a job's state.
func (s *ExportService) GetJob(id string) (*ExportJob, error) {
	s.mu.RLock()
	job, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
	}
	snapshot := *job
	return &snapshot, nil
}

// ProcessJob is the worker queue handler. It builds the report, renders the
// requested format, writes the file and attaches a signed download token.
func (s *ExportService) ProcessJob(ctx context.Context, job jobs.Job) error {
	jobID := job.ID

	s.mu.Lock()
	entry, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown export job %s", jobID)
	}
	entry.Status = JobRunning
	req := entry.request
	format := entry.Format
	s.mu.Unlock()

	report, err := s.reports.Report(ctx, req)
	if err != nil {
		s.fail(jobID, err)
		return err
	}

	dataset := reportDataset(report)
	var (
		content  []byte
		fileName string
	)
	switch format {
	case FormatPDF:
		content, err = s.pdf.Render(dataset, exportTitle(report))
		fileName = fmt.Sprintf("attendance-report-%s.pdf", jobID)
	default:
		content, err = s.csv.Render(dataset)
		fileName = fmt.Sprintf("attendance-report-%s.csv", jobID)
	}
	if err != nil {
		s.fail(jobID, err)
		return err
	}

	if _, err := s.files.Save(fileName, content); err != nil {
		s.fail(jobID, err)
		return err
	}

	token, expiresAt, err := s.signer.Generate(jobID, fileName)
	if err != nil {
		s.fail(jobID, err)
		return err
	}

	now := time.Now().UTC()
	s.mu.Lock()
	entry.Status = JobFinished
	entry.FileName = fileName
	entry.DownloadToken = token
	entry.ExpiresAt = &expiresAt
	entry.CompletedAt = &now
	s.mu.Unlock()

	s.logger.Info("report export finished",
		zap.String("job_id", jobID),
		zap.String("format", string(format)),
		zap.String("file", fileName),
	)
	return nil
}

// ResolveDownload validates a signed token and opens the exported file.
func (s *ExportService) ResolveDownload(token string) (*os.File, string, error) {
	jobID, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "invalid or expired download token")
	}
	s.mu.RLock()
	_, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "export job not found")
	}
	file, err := s.files.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "export file no longer available")
	}
	return file, relPath, nil
}

// StartCleanup launches a loop that prunes expired export files and their
// job records. It returns when ctx is cancelled.
func (s *ExportService) StartCleanup(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanup(ttl)
			}
		}
	}()
}

func (s *ExportService) cleanup(ttl time.Duration) {
	removed, err := s.files.CleanupOlderThan(ttl)
	if err != nil {
		s.logger.Warn("export cleanup failed", zap.Error(err))
		return
	}
	cutoff := time.Now().UTC().Add(-ttl)
	s.mu.Lock()
	for id, job := range s.jobs {
		if job.CreatedAt.Before(cutoff) {
			delete(s.jobs, id)
		}
	}
	s.mu.Unlock()
	if len(removed) > 0 {
		s.logger.Info("expired exports removed", zap.Int("count", len(removed)))
	}
}

func (s *ExportService) fail(jobID string, err error) {
	now := time.Now().UTC()
	s.mu.Lock()
	if entry, ok := s.jobs[jobID]; ok {
		entry.Status = JobFailed
		entry.Error = err.Error()
		entry.CompletedAt = &now
	}
	s.mu.Unlock()
	s.logger.Error("report export failed", zap.String("job_id", jobID), zap.Error(err))
}

func reportDataset(report *models.AttendanceReport) export.Dataset {
	headers := []string{"Student", "Roll Number", "Class", "Total Days", "Present", "Absent", "Leave", "Attendance %"}
	rows := make([]map[string]string, 0, len(report.Rows))
	for _, row := range report.Rows {
		rows = append(rows, map[string]string{
			"Student":      row.StudentName,
			"Roll Number":  row.RollNumber,
			"Class":        row.ClassName,
			"Total Days":   strconv.Itoa(row.TotalDays),
			"Present":      strconv.Itoa(row.PresentDays),
			"Absent":       strconv.Itoa(row.AbsentDays),
			"Leave":        strconv.Itoa(row.LeaveDays),
			"Attendance %": fmt.Sprintf("%.2f", row.AttendancePercentage),
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}
}

func exportTitle(report *models.AttendanceReport) string {
	switch {
	case report.From != nil && report.To != nil:
		return fmt.Sprintf("Attendance Report %s to %s", report.From, report.To)
	case report.From != nil:
		return fmt.Sprintf("Attendance Report from %s", report.From)
	case report.To != nil:
		return fmt.Sprintf("Attendance Report until %s", report.To)
	default:
		return "Attendance Report"
	}
}
