package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/face-attendance-api/internal/models"
	appErrors "github.com/noah-isme/face-attendance-api/pkg/errors"
)

// Postgres error codes for unique and foreign key constraint breaches.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// AttendanceRepository handles persistence for attendance records.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

const recordColumns = "id, student_id, date, time_of_day, status, match_distance, source, created_at"

const detailSelect = `SELECT a.id, a.student_id, a.date, a.time_of_day, a.status, a.match_distance, a.source, a.created_at,
        s.full_name AS student_name, s.roll_number, s.class_name
        FROM attendance_records a
        JOIN students s ON s.id = a.student_id`

// Insert creates a new attendance record. The unique index on
// (student_id, date) is the authoritative duplicate guard; a violation is
// surfaced as the duplicate-record domain error so concurrent marks for the
// same student and day cannot both succeed. A foreign key breach means the
// student vanished between lookup and insert and maps to not-found.
func (r *AttendanceRepository) Insert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	query := fmt.Sprintf(`INSERT INTO attendance_records (id, student_id, date, time_of_day, status, match_distance, source, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING %s`, recordColumns)
	var stored models.AttendanceRecord
	err := r.db.GetContext(ctx, &stored, query,
		record.ID, record.StudentID, record.Date, record.TimeOfDay, record.Status, record.MatchDistance, record.Source, record.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch pqErr.Code {
			case pgUniqueViolation:
				return nil, appErrors.Wrap(err, appErrors.ErrDuplicateRecord.Code, appErrors.ErrDuplicateRecord.Status, appErrors.ErrDuplicateRecord.Message)
			case pgForeignKeyViolation:
				return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "student not found")
			}
		}
		return nil, fmt.Errorf("insert attendance record: %w", err)
	}
	return &stored, nil
}

// FindByID fetches a record with joined student metadata.
func (r *AttendanceRepository) FindByID(ctx context.Context, id string) (*models.AttendanceRecordDetail, error) {
	var detail models.AttendanceRecordDetail
	if err := r.db.GetContext(ctx, &detail, detailSelect+" WHERE a.id = $1", id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindByStudentAndDate returns the existing record for a (student, date) pair,
// or sql.ErrNoRows.
func (r *AttendanceRepository) FindByStudentAndDate(ctx context.Context, studentID string, date models.Date) (*models.AttendanceRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM attendance_records WHERE student_id = $1 AND date = $2", recordColumns)
	var record models.AttendanceRecord
	if err := r.db.GetContext(ctx, &record, query, studentID, date); err != nil {
		return nil, err
	}
	return &record, nil
}

// ListByDate returns all records for a date, most recent time first.
func (r *AttendanceRepository) ListByDate(ctx context.Context, date models.Date) ([]models.AttendanceRecordDetail, error) {
	var records []models.AttendanceRecordDetail
	if err := r.db.SelectContext(ctx, &records, detailSelect+" WHERE a.date = $1 ORDER BY a.time_of_day DESC", date); err != nil {
		return nil, fmt.Errorf("list attendance by date: %w", err)
	}
	return records, nil
}

// Report aggregates records per student over an inclusive date range,
// optionally filtered to one student. Rows are ordered by student name.
func (r *AttendanceRepository) Report(ctx context.Context, from, to *models.Date, studentID string) ([]models.AttendanceReportRow, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}
	if from != nil {
		conditions = append(conditions, fmt.Sprintf("a.date >= $%d", len(args)+1))
		args = append(args, *from)
	}
	if to != nil {
		conditions = append(conditions, fmt.Sprintf("a.date <= $%d", len(args)+1))
		args = append(args, *to)
	}
	if studentID != "" {
		conditions = append(conditions, fmt.Sprintf("a.student_id = $%d", len(args)+1))
		args = append(args, studentID)
	}

	query := fmt.Sprintf(`SELECT s.id AS student_id, s.full_name AS student_name, s.roll_number, s.class_name,
        COUNT(*) AS total_days,
        COUNT(*) FILTER (WHERE a.status = 'Present') AS present_days,
        COUNT(*) FILTER (WHERE a.status = 'Absent') AS absent_days,
        COUNT(*) FILTER (WHERE a.status = 'Leave') AS leave_days,
        AVG(a.match_distance) AS avg_match_distance
        FROM attendance_records a
        JOIN students s ON s.id = a.student_id
        WHERE %s
        GROUP BY s.id, s.full_name, s.roll_number, s.class_name
        ORDER BY s.full_name ASC`, strings.Join(conditions, " AND "))

	var rows []models.AttendanceReportRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("attendance report: %w", err)
	}

	for i := range rows {
		if rows[i].TotalDays > 0 {
			pct := float64(rows[i].PresentDays) / float64(rows[i].TotalDays) * 100
			rows[i].AttendancePercentage = math.Round(pct*100) / 100
		}
	}
	return rows, nil
}

// Delete removes a record by ID. Returns sql.ErrNoRows when nothing matched.
func (r *AttendanceRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM attendance_records WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete attendance record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete attendance record: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
