package models

import (
	"strings"
	"time"
)

// AttendanceStatus represents the status recorded for a day.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "Present"
	AttendanceStatusAbsent  AttendanceStatus = "Absent"
	AttendanceStatusLeave   AttendanceStatus = "Leave"
)

// ParseAttendanceStatus normalizes a raw status string, accepting any casing.
func ParseAttendanceStatus(raw string) (AttendanceStatus, bool) {
	switch {
	case strings.EqualFold(raw, string(AttendanceStatusPresent)):
		return AttendanceStatusPresent, true
	case strings.EqualFold(raw, string(AttendanceStatusAbsent)):
		return AttendanceStatusAbsent, true
	case strings.EqualFold(raw, string(AttendanceStatusLeave)):
		return AttendanceStatusLeave, true
	default:
		return "", false
	}
}

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusAbsent, AttendanceStatusLeave:
		return true
	default:
		return false
	}
}

// AttendanceSource tags how a record was produced.
type AttendanceSource string

const (
	AttendanceSourceManual AttendanceSource = "manual"
	AttendanceSourceFace   AttendanceSource = "auto-face"
)

// AttendanceRecord is a single per-student, per-day presence row. At most one
// record exists per (student, date); the database enforces this.
type AttendanceRecord struct {
	ID            string           `db:"id" json:"id"`
	StudentID     string           `db:"student_id" json:"student_id"`
	Date          Date             `db:"date" json:"date"`
	TimeOfDay     string           `db:"time_of_day" json:"time"`
	Status        AttendanceStatus `db:"status" json:"status"`
	MatchDistance *float64         `db:"match_distance" json:"match_distance,omitempty"`
	Source        AttendanceSource `db:"source" json:"source"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
}

// AttendanceRecordDetail extends the record with student metadata for display.
type AttendanceRecordDetail struct {
	AttendanceRecord
	StudentName string `db:"student_name" json:"student_name"`
	RollNumber  string `db:"roll_number" json:"roll_number"`
	ClassName   string `db:"class_name" json:"class_name"`
}

// AttendanceDaySummary captures all records for one date plus derived counts.
type AttendanceDaySummary struct {
	Date         Date                     `json:"date"`
	TotalMarked  int                      `json:"total_marked"`
	PresentCount int                      `json:"present_count"`
	AbsentCount  int                      `json:"absent_count"`
	Records      []AttendanceRecordDetail `json:"records"`
}

// AttendanceReportRow aggregates one student's records over a date range.
type AttendanceReportRow struct {
	StudentID            string   `db:"student_id" json:"student_id"`
	StudentName          string   `db:"student_name" json:"student_name"`
	RollNumber           string   `db:"roll_number" json:"roll_number"`
	ClassName            string   `db:"class_name" json:"class_name"`
	TotalDays            int      `db:"total_days" json:"total_days"`
	PresentDays          int      `db:"present_days" json:"present_days"`
	AbsentDays           int      `db:"absent_days" json:"absent_days"`
	LeaveDays            int      `db:"leave_days" json:"leave_days"`
	AttendancePercentage float64  `db:"-" json:"attendance_percentage"`
	AvgMatchDistance     *float64 `db:"avg_match_distance" json:"avg_match_distance,omitempty"`
}

// AttendanceReport wraps report rows with the requested range.
type AttendanceReport struct {
	From          *Date                 `json:"from,omitempty"`
	To            *Date                 `json:"to,omitempty"`
	TotalStudents int                   `json:"total_students"`
	Rows          []AttendanceReportRow `json:"report"`
}
