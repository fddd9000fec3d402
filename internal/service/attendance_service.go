package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/face-attendance-api/internal/face"
	"github.com/noah-isme/face-attendance-api/internal/models"
	appErrors "github.com/noah-isme/face-attendance-api/pkg/errors"
)

type attendanceRepository interface {
	Insert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error)
	FindByID(ctx context.Context, id string) (*models.AttendanceRecordDetail, error)
	FindByStudentAndDate(ctx context.Context, studentID string, date models.Date) (*models.AttendanceRecord, error)
	ListByDate(ctx context.Context, date models.Date) ([]models.AttendanceRecordDetail, error)
	Report(ctx context.Context, from, to *models.Date, studentID string) ([]models.AttendanceReportRow, error)
	Delete(ctx context.Context, id string) error
}

type studentDirectory interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	ListEnrolled(ctx context.Context) ([]models.Student, error)
}

// AttendanceService coordinates marking, listing and reporting attendance.
type AttendanceService struct {
	repo      attendanceRepository
	students  studentDirectory
	matcher   *face.Matcher
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewAttendanceService constructs the attendance service.
func NewAttendanceService(repo attendanceRepository, students studentDirectory, matcher *face.Matcher, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if matcher == nil {
		matcher = face.NewMatcher(face.DefaultThreshold)
	}
	svc := &AttendanceService{
		repo:      repo,
		students:  students,
		matcher:   matcher,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
	svc.validator.RegisterValidation("attendance_status", func(fl validator.FieldLevel) bool {
		_, ok := models.ParseAttendanceStatus(fl.Field().String())
		return ok
	})
	return svc
}

// MarkAttendanceRequest describes the payload for marking attendance. Either
// a face embedding (matched against the enrolled pool) or an explicit
// student_id must be supplied; student_id wins when both are present.
type MarkAttendanceRequest struct {
	FaceEmbedding []float64 `json:"face_embedding"`
	StudentID     string    `json:"student_id"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	Status        string    `json:"status" validate:"omitempty,attendance_status"`
}

// MarkAttendanceResult reports the stored record plus match diagnostics when
// the record was resolved from an embedding.
type MarkAttendanceResult struct {
	Record     *models.AttendanceRecordDetail `json:"record"`
	Matched    bool                           `json:"matched"`
	Distance   *float64                       `json:"distance,omitempty"`
	Confidence *float64                       `json:"confidence,omitempty"`
}

// Mark records one attendance entry for the resolved student on the given
// date. A second mark for the same student and day is rejected.
func (s *AttendanceService) Mark(ctx context.Context, req MarkAttendanceRequest) (*MarkAttendanceResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}

	date, err := s.resolveDate(req.Date)
	if err != nil {
		return nil, err
	}
	timeOfDay, err := s.resolveTime(req.Time)
	if err != nil {
		return nil, err
	}
	status := models.AttendanceStatusPresent
	if req.Status != "" {
		status, _ = models.ParseAttendanceStatus(req.Status)
	}

	result := &MarkAttendanceResult{}
	record := &models.AttendanceRecord{
		Date:      date,
		TimeOfDay: timeOfDay,
		Status:    status,
		Source:    models.AttendanceSourceManual,
	}

	switch {
	case req.StudentID != "":
		if _, err := s.students.FindByID(ctx, req.StudentID); err != nil {
			if err == sql.ErrNoRows {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
		}
		record.StudentID = req.StudentID
	case len(req.FaceEmbedding) > 0:
		match, err := s.resolveByFace(ctx, req.FaceEmbedding)
		if err != nil {
			return nil, err
		}
		record.StudentID = match.StudentID
		record.Source = models.AttendanceSourceFace
		record.MatchDistance = &match.Distance
		confidence := match.Confidence
		result.Matched = true
		result.Distance = record.MatchDistance
		result.Confidence = &confidence
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "either face_embedding or student_id is required")
	}

	// Pre-check for a friendlier conflict payload. The unique index on
	// (student_id, date) remains authoritative under concurrent marks.
	if existing, err := s.repo.FindByStudentAndDate(ctx, record.StudentID, date); err == nil && existing != nil {
		dup := appErrors.Clone(appErrors.ErrDuplicateRecord, fmt.Sprintf("attendance already marked for this student on %s", date))
		return nil, dup
	} else if err != nil && err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing attendance")
	}

	stored, err := s.repo.Insert(ctx, record)
	if err != nil {
		if appErr, ok := err.(*appErrors.Error); ok {
			return nil, appErr
		}
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record attendance")
	}

	detail, err := s.repo.FindByID(ctx, stored.ID)
	if err != nil {
		detail = &models.AttendanceRecordDetail{AttendanceRecord: *stored}
	}

	if s.metrics != nil {
		s.metrics.RecordAttendanceMarked(string(record.Source), string(record.Status))
	}
	s.invalidateCaches(ctx)

	s.logger.Info("attendance marked",
		zap.String("student_id", detail.StudentID),
		zap.String("date", date.String()),
		zap.String("status", string(detail.Status)),
		zap.String("source", string(detail.Source)),
	)

	result.Record = detail
	return result, nil
}

// ByDate returns all records for a day, newest first, with present and
// absent tallies.
func (s *AttendanceService) ByDate(ctx context.Context, rawDate string) (*models.AttendanceDaySummary, error) {
	date, err := s.resolveDate(rawDate)
	if err != nil {
		return nil, err
	}
	records, err := s.repo.ListByDate(ctx, date)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
	}
	summary := &models.AttendanceDaySummary{
		Date:        date,
		TotalMarked: len(records),
		Records:     records,
	}
	for _, rec := range records {
		switch rec.Status {
		case models.AttendanceStatusPresent:
			summary.PresentCount++
		case models.AttendanceStatusAbsent:
			summary.AbsentCount++
		}
	}
	return summary, nil
}

// Get returns one attendance record.
func (s *AttendanceService) Get(ctx context.Context, id string) (*models.AttendanceRecordDetail, error) {
	detail, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attendance record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance record")
	}
	return detail, nil
}

// Delete removes one attendance record.
func (s *AttendanceService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "attendance record not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete attendance record")
	}
	s.invalidateCaches(ctx)
	return nil
}

// ReportRequest filters the aggregate attendance report.
type ReportRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	StudentID string `json:"student_id"`
}

// Report aggregates per-student attendance counts over an optional date
// range. Results are cached until the next write.
func (s *AttendanceService) Report(ctx context.Context, req ReportRequest) (*models.AttendanceReport, error) {
	var from, to *models.Date
	if req.From != "" {
		d, err := models.ParseDate(req.From)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid from date, expected YYYY-MM-DD")
		}
		from = &d
	}
	if req.To != "" {
		d, err := models.ParseDate(req.To)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid to date, expected YYYY-MM-DD")
		}
		to = &d
	}
	if from != nil && to != nil && to.String() < from.String() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "to date must not precede from date")
	}

	cacheKey := s.reportCacheKey(req)
	if s.cache.Enabled() {
		var cached models.AttendanceReport
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	rows, err := s.repo.Report(ctx, from, to, req.StudentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build attendance report")
	}
	report := &models.AttendanceReport{
		From:          from,
		To:            to,
		TotalStudents: len(rows),
		Rows:          rows,
	}

	if s.cache.Enabled() {
		s.cache.Set(ctx, cacheKey, report, 0)
	}
	return report, nil
}

// resolveByFace matches a probe embedding against all enrolled students.
func (s *AttendanceService) resolveByFace(ctx context.Context, embedding []float64) (*face.Match, error) {
	students, err := s.students.ListEnrolled(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrolled students")
	}
	if len(students) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNoEnrollments, "no enrolled students to match against")
	}

	candidates := make([]face.Candidate, 0, len(students))
	for _, st := range students {
		candidates = append(candidates, face.Candidate{StudentID: st.ID, Embedding: st.Embedding})
	}

	match, ok := s.matcher.Resolve(embedding, candidates)
	if s.metrics != nil {
		s.metrics.ObserveMatch(match.Distance, ok)
	}
	if !ok {
		msg := fmt.Sprintf("no student matched: best distance %.3f exceeds threshold %.2f", match.Distance, s.matcher.Threshold())
		return nil, appErrors.Clone(appErrors.ErrNoMatch, msg)
	}
	return &match, nil
}

func (s *AttendanceService) resolveDate(raw string) (models.Date, error) {
	if raw == "" {
		return models.DateOf(s.now()), nil
	}
	date, err := models.ParseDate(raw)
	if err != nil {
		return models.Date{}, appErrors.Clone(appErrors.ErrValidation, "invalid date, expected YYYY-MM-DD")
	}
	return date, nil
}

// resolveTime normalizes time-of-day input to zero-padded HH:MM:SS so the
// stored strings sort correctly.
func (s *AttendanceService) resolveTime(raw string) (string, error) {
	if raw == "" {
		return s.now().Format("15:04:05"), nil
	}
	if t, err := time.Parse("15:04:05", raw); err == nil {
		return t.Format("15:04:05"), nil
	}
	if t, err := time.Parse("15:04", raw); err == nil {
		return t.Format("15:04:05"), nil
	}
	return "", appErrors.Clone(appErrors.ErrValidation, "invalid time, expected HH:MM or HH:MM:SS")
}

func (s *AttendanceService) reportCacheKey(req ReportRequest) string {
	return fmt.Sprintf("report:attendance:%s:%s:%s", req.From, req.To, req.StudentID)
}

func (s *AttendanceService) invalidateCaches(ctx context.Context) {
	if !s.cache.Enabled() {
		return
	}
	if err := s.cache.Invalidate(ctx, "report:attendance:*"); err != nil {
		s.logger.Warn("failed to invalidate report cache", zap.Error(err))
	}
}
