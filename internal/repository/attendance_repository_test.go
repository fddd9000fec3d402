package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/face-attendance-api/internal/models"
	appErrors "github.com/noah-isme/face-attendance-api/pkg/errors"
)

func newAttendanceMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func mustDate(t *testing.T, raw string) models.Date {
	d, err := models.ParseDate(raw)
	require.NoError(t, err)
	return d
}

func TestAttendanceRepositoryInsert(t *testing.T) {
	db, mock, cleanup := newAttendanceMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	date := mustDate(t, "2026-03-02")
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "student_id", "date", "time_of_day", "status", "match_distance", "source", "created_at"}).
		AddRow("rec-1", "st-1", date.Time, "08:15:00", "Present", 0.31, "auto-face", now)

	mock.ExpectQuery("INSERT INTO attendance_records").
		WillReturnRows(rows)

	distance := 0.31
	stored, err := repo.Insert(context.Background(), &models.AttendanceRecord{
		StudentID:     "st-1",
		Date:          date,
		TimeOfDay:     "08:15:00",
		Status:        models.AttendanceStatusPresent,
		MatchDistance: &distance,
		Source:        models.AttendanceSourceFace,
	})
	require.NoError(t, err)
	assert.Equal(t, "rec-1", stored.ID)
	assert.Equal(t, models.AttendanceSourceFace, stored.Source)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryInsertDuplicate(t *testing.T) {
	db, mock, cleanup := newAttendanceMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectQuery("INSERT INTO attendance_records").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "uq_attendance_student_date"})

	_, err := repo.Insert(context.Background(), &models.AttendanceRecord{
		StudentID: "st-1",
		Date:      mustDate(t, "2026-03-02"),
		Status:    models.AttendanceStatusPresent,
		Source:    models.AttendanceSourceManual,
	})
	require.Error(t, err)

	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrDuplicateRecord.Code, appErr.Code)
	assert.Equal(t, 409, appErr.Status)
}

func TestAttendanceRepositoryInsertUnknownStudent(t *testing.T) {
	db, mock, cleanup := newAttendanceMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectQuery("INSERT INTO attendance_records").
		WillReturnError(&pq.Error{Code: "23503", Constraint: "attendance_records_student_id_fkey"})

	_, err := repo.Insert(context.Background(), &models.AttendanceRecord{
		StudentID: "ghost",
		Date:      mustDate(t, "2026-03-02"),
		Status:    models.AttendanceStatusPresent,
		Source:    models.AttendanceSourceManual,
	})
	require.Error(t, err)

	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
	assert.Equal(t, 404, appErr.Status)
}

func TestAttendanceRepositoryFindByStudentAndDate(t *testing.T) {
	db, mock, cleanup := newAttendanceMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	date := mustDate(t, "2026-03-02")
	rows := sqlmock.NewRows([]string{"id", "student_id", "date", "time_of_day", "status", "match_distance", "source", "created_at"}).
		AddRow("rec-1", "st-1", date.Time, "08:15:00", "Present", nil, "manual", time.Now())

	mock.ExpectQuery("SELECT .+ FROM attendance_records WHERE student_id = \\$1 AND date = \\$2").
		WithArgs("st-1", date).
		WillReturnRows(rows)

	record, err := repo.FindByStudentAndDate(context.Background(), "st-1", date)
	require.NoError(t, err)
	assert.Equal(t, "rec-1", record.ID)
	assert.Nil(t, record.MatchDistance)

	mock.ExpectQuery("SELECT .+ FROM attendance_records WHERE student_id = \\$1 AND date = \\$2").
		WithArgs("st-2", date).
		WillReturnError(sql.ErrNoRows)

	_, err = repo.FindByStudentAndDate(context.Background(), "st-2", date)
	assert.Equal(t, sql.ErrNoRows, err)
}

func TestAttendanceRepositoryListByDate(t *testing.T) {
	db, mock, cleanup := newAttendanceMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	date := mustDate(t, "2026-03-02")
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "student_id", "date", "time_of_day", "status", "match_distance", "source", "created_at", "student_name", "roll_number", "class_name"}).
		AddRow("rec-2", "st-2", date.Time, "09:00:00", "Present", nil, "manual", now, "Budi Santoso", "R-002", "10A").
		AddRow("rec-1", "st-1", date.Time, "08:15:00", "Present", 0.31, "auto-face", now, "Aisha Rahman", "R-001", "10A")

	mock.ExpectQuery("SELECT a.id, .+ FROM attendance_records a\\s+JOIN students s ON s.id = a.student_id WHERE a.date = \\$1 ORDER BY a.time_of_day DESC").
		WithArgs(date).
		WillReturnRows(rows)

	records, err := repo.ListByDate(context.Background(), date)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Budi Santoso", records[0].StudentName)
	assert.Equal(t, "rec-1", records[1].ID)
}

func TestAttendanceRepositoryReportPercentage(t *testing.T) {
	db, mock, cleanup := newAttendanceMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	rows := sqlmock.NewRows([]string{"student_id", "student_name", "roll_number", "class_name", "total_days", "present_days", "absent_days", "leave_days", "avg_match_distance"}).
		AddRow("st-1", "Aisha Rahman", "R-001", "10A", 3, 2, 1, 0, 0.35).
		AddRow("st-2", "Budi Santoso", "R-002", "10A", 0, 0, 0, 0, nil)

	mock.ExpectQuery("SELECT s.id AS student_id, .+ GROUP BY s.id, .+ ORDER BY s.full_name ASC").
		WillReturnRows(rows)

	report, err := repo.Report(context.Background(), nil, nil, "")
	require.NoError(t, err)
	require.Len(t, report, 2)
	assert.InDelta(t, 66.67, report[0].AttendancePercentage, 0.001)
	assert.Zero(t, report[1].AttendancePercentage)
}

func TestAttendanceRepositoryReportRangeArgs(t *testing.T) {
	db, mock, cleanup := newAttendanceMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	from := mustDate(t, "2026-03-01")
	to := mustDate(t, "2026-03-31")
	rows := sqlmock.NewRows([]string{"student_id", "student_name", "roll_number", "class_name", "total_days", "present_days", "absent_days", "leave_days", "avg_match_distance"})

	mock.ExpectQuery("a.date >= \\$1 AND a.date <= \\$2 AND a.student_id = \\$3").
		WithArgs(from, to, "st-1").
		WillReturnRows(rows)

	report, err := repo.Report(context.Background(), &from, &to, "st-1")
	require.NoError(t, err)
	assert.Empty(t, report)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newAttendanceMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectExec("DELETE FROM attendance_records WHERE id = \\$1").
		WithArgs("rec-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(context.Background(), "rec-1"))

	mock.ExpectExec("DELETE FROM attendance_records WHERE id = \\$1").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.Equal(t, sql.ErrNoRows, repo.Delete(context.Background(), "missing"))
}
