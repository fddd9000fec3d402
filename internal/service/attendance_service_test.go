package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/face-attendance-api/internal/face"
	"github.com/noah-isme/face-attendance-api/internal/models"
	appErrors "github.com/noah-isme/face-attendance-api/pkg/errors"
)

type mockAttendanceRepo struct {
	records    map[string]models.AttendanceRecord
	byDay      map[string]string
	reportRows []models.AttendanceReportRow
	insertErr  error
}

func dayKey(studentID string, date models.Date) string {
	return studentID + "|" + date.String()
}

func (m *mockAttendanceRepo) Insert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	if m.insertErr != nil {
		return nil, m.insertErr
	}
	if m.records == nil {
		m.records = make(map[string]models.AttendanceRecord)
		m.byDay = make(map[string]string)
	}
	if _, exists := m.byDay[dayKey(record.StudentID, record.Date)]; exists {
		return nil, appErrors.Clone(appErrors.ErrDuplicateRecord, appErrors.ErrDuplicateRecord.Message)
	}
	if record.ID == "" {
		record.ID = fmt.Sprintf("rec-%d", len(m.records)+1)
	}
	m.records[record.ID] = *record
	m.byDay[dayKey(record.StudentID, record.Date)] = record.ID
	stored := *record
	return &stored, nil
}

func (m *mockAttendanceRepo) FindByID(ctx context.Context, id string) (*models.AttendanceRecordDetail, error) {
	if rec, ok := m.records[id]; ok {
		return &models.AttendanceRecordDetail{AttendanceRecord: rec, StudentName: "Aisha Rahman", RollNumber: "R-001"}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAttendanceRepo) FindByStudentAndDate(ctx context.Context, studentID string, date models.Date) (*models.AttendanceRecord, error) {
	if id, ok := m.byDay[dayKey(studentID, date)]; ok {
		rec := m.records[id]
		return &rec, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAttendanceRepo) ListByDate(ctx context.Context, date models.Date) ([]models.AttendanceRecordDetail, error) {
	var out []models.AttendanceRecordDetail
	for _, rec := range m.records {
		if rec.Date.String() == date.String() {
			out = append(out, models.AttendanceRecordDetail{AttendanceRecord: rec})
		}
	}
	return out, nil
}

func (m *mockAttendanceRepo) Report(ctx context.Context, from, to *models.Date, studentID string) ([]models.AttendanceReportRow, error) {
	return m.reportRows, nil
}

func (m *mockAttendanceRepo) Delete(ctx context.Context, id string) error {
	if _, ok := m.records[id]; !ok {
		return sql.ErrNoRows
	}
	rec := m.records[id]
	delete(m.byDay, dayKey(rec.StudentID, rec.Date))
	delete(m.records, id)
	return nil
}

type mockStudentDirectory struct {
	students []models.Student
	err      error
}

func (m *mockStudentDirectory) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if m.err != nil {
		return nil, m.err
	}
	for i := range m.students {
		if m.students[i].ID == id {
			st := m.students[i]
			return &st, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentDirectory) ListEnrolled(ctx context.Context) ([]models.Student, error) {
	return m.students, m.err
}

func newTestAttendanceService(repo *mockAttendanceRepo, students *mockStudentDirectory) *AttendanceService {
	svc := NewAttendanceService(repo, students, face.NewMatcher(0.48), nil, nil, nil, zap.NewNop())
	svc.now = func() time.Time {
		return time.Date(2026, 3, 2, 8, 15, 0, 0, time.UTC)
	}
	return svc
}

func enrolledPool() *mockStudentDirectory {
	return &mockStudentDirectory{students: []models.Student{
		{ID: "st-1", FullName: "Aisha Rahman", Embedding: pq.Float64Array{0.1, 0.2, 0.3, 0.4}},
		{ID: "st-2", FullName: "Budi Santoso", Embedding: pq.Float64Array{0.9, 0.8, 0.7, 0.6}},
	}}
}

func TestAttendanceServiceMarkByFace(t *testing.T) {
	repo := &mockAttendanceRepo{}
	svc := newTestAttendanceService(repo, enrolledPool())

	result, err := svc.Mark(context.Background(), MarkAttendanceRequest{
		FaceEmbedding: []float64{0.1, 0.2, 0.3, 0.4},
	})
	require.NoError(t, err)
	require.True(t, result.Matched)
	assert.Equal(t, "st-1", result.Record.StudentID)
	assert.Equal(t, models.AttendanceSourceFace, result.Record.Source)
	assert.Equal(t, models.AttendanceStatusPresent, result.Record.Status)
	assert.Equal(t, "2026-03-02", result.Record.Date.String())
	assert.Equal(t, "08:15:00", result.Record.TimeOfDay)
	require.NotNil(t, result.Distance)
	assert.InDelta(t, 0, *result.Distance, 1e-9)
	require.NotNil(t, result.Confidence)
	assert.InDelta(t, 1.0, *result.Confidence, 1e-9)
}

func TestAttendanceServiceMarkNoMatch(t *testing.T) {
	repo := &mockAttendanceRepo{}
	svc := newTestAttendanceService(repo, enrolledPool())

	_, err := svc.Mark(context.Background(), MarkAttendanceRequest{
		FaceEmbedding: []float64{5, 5, 5, 5},
	})
	require.Error(t, err)

	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrNoMatch.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "distance")
	assert.Empty(t, repo.records)
}

func TestAttendanceServiceMarkNoEnrollments(t *testing.T) {
	svc := newTestAttendanceService(&mockAttendanceRepo{}, &mockStudentDirectory{})

	_, err := svc.Mark(context.Background(), MarkAttendanceRequest{
		FaceEmbedding: []float64{0.1, 0.2, 0.3, 0.4},
	})
	require.Error(t, err)

	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrNoEnrollments.Code, appErr.Code)
}

func TestAttendanceServiceMarkManual(t *testing.T) {
	repo := &mockAttendanceRepo{}
	svc := newTestAttendanceService(repo, enrolledPool())

	result, err := svc.Mark(context.Background(), MarkAttendanceRequest{
		StudentID: "st-2",
		Date:      "2026-03-01",
		Time:      "07:45",
		Status:    "leave",
	})
	require.NoError(t, err)
	assert.False(t, result.Matched)
	assert.Equal(t, models.AttendanceSourceManual, result.Record.Source)
	assert.Equal(t, models.AttendanceStatusLeave, result.Record.Status)
	assert.Equal(t, "07:45:00", result.Record.TimeOfDay)
	assert.Nil(t, result.Record.MatchDistance)
}

func TestAttendanceServiceMarkManualUnknownStudent(t *testing.T) {
	repo := &mockAttendanceRepo{}
	svc := newTestAttendanceService(repo, enrolledPool())

	_, err := svc.Mark(context.Background(), MarkAttendanceRequest{StudentID: "ghost"})
	require.Error(t, err)

	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
	assert.Equal(t, 404, appErr.Status)
	assert.Empty(t, repo.records)
}

func TestAttendanceServiceMarkPadsShortTime(t *testing.T) {
	repo := &mockAttendanceRepo{}
	svc := newTestAttendanceService(repo, enrolledPool())

	result, err := svc.Mark(context.Background(), MarkAttendanceRequest{StudentID: "st-1", Time: "7:45"})
	require.NoError(t, err)
	assert.Equal(t, "07:45:00", result.Record.TimeOfDay)
}

func TestAttendanceServiceMarkManualWinsOverFace(t *testing.T) {
	repo := &mockAttendanceRepo{}
	svc := newTestAttendanceService(repo, enrolledPool())

	result, err := svc.Mark(context.Background(), MarkAttendanceRequest{
		StudentID:     "st-2",
		FaceEmbedding: []float64{0.1, 0.2, 0.3, 0.4},
	})
	require.NoError(t, err)
	assert.Equal(t, "st-2", result.Record.StudentID)
	assert.Equal(t, models.AttendanceSourceManual, result.Record.Source)
}

func TestAttendanceServiceMarkDuplicate(t *testing.T) {
	repo := &mockAttendanceRepo{}
	svc := newTestAttendanceService(repo, enrolledPool())

	_, err := svc.Mark(context.Background(), MarkAttendanceRequest{StudentID: "st-1"})
	require.NoError(t, err)

	_, err = svc.Mark(context.Background(), MarkAttendanceRequest{StudentID: "st-1"})
	require.Error(t, err)

	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrDuplicateRecord.Code, appErr.Code)
	assert.Equal(t, 409, appErr.Status)
}

func TestAttendanceServiceMarkNextDayAllowed(t *testing.T) {
	repo := &mockAttendanceRepo{}
	svc := newTestAttendanceService(repo, enrolledPool())

	_, err := svc.Mark(context.Background(), MarkAttendanceRequest{StudentID: "st-1", Date: "2026-03-01"})
	require.NoError(t, err)

	_, err = svc.Mark(context.Background(), MarkAttendanceRequest{StudentID: "st-1", Date: "2026-03-02"})
	require.NoError(t, err)
	assert.Len(t, repo.records, 2)
}

func TestAttendanceServiceMarkNeitherInput(t *testing.T) {
	svc := newTestAttendanceService(&mockAttendanceRepo{}, enrolledPool())

	_, err := svc.Mark(context.Background(), MarkAttendanceRequest{})
	require.Error(t, err)

	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestAttendanceServiceMarkInvalidDate(t *testing.T) {
	svc := newTestAttendanceService(&mockAttendanceRepo{}, enrolledPool())

	_, err := svc.Mark(context.Background(), MarkAttendanceRequest{StudentID: "st-1", Date: "03/02/2026"})
	require.Error(t, err)

	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestAttendanceServiceByDateCounts(t *testing.T) {
	repo := &mockAttendanceRepo{}
	svc := newTestAttendanceService(repo, enrolledPool())

	_, err := svc.Mark(context.Background(), MarkAttendanceRequest{StudentID: "st-1", Status: "Present"})
	require.NoError(t, err)
	_, err = svc.Mark(context.Background(), MarkAttendanceRequest{StudentID: "st-2", Status: "Absent"})
	require.NoError(t, err)

	summary, err := svc.ByDate(context.Background(), "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalMarked)
	assert.Equal(t, 1, summary.PresentCount)
	assert.Equal(t, 1, summary.AbsentCount)
}

func TestAttendanceServiceReportRange(t *testing.T) {
	repo := &mockAttendanceRepo{reportRows: []models.AttendanceReportRow{
		{StudentID: "st-1", StudentName: "Aisha Rahman", TotalDays: 4, PresentDays: 3, AttendancePercentage: 75},
	}}
	svc := newTestAttendanceService(repo, enrolledPool())

	report, err := svc.Report(context.Background(), ReportRequest{From: "2026-03-01", To: "2026-03-31"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalStudents)
	require.NotNil(t, report.From)
	assert.Equal(t, "2026-03-01", report.From.String())

	_, err = svc.Report(context.Background(), ReportRequest{From: "2026-03-31", To: "2026-03-01"})
	require.Error(t, err)
}
