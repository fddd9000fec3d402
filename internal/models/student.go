package models

import (
	"time"

	"github.com/lib/pq"
)

// Student represents a learner registered for face attendance. The embedding
// is the single reference descriptor written at enrollment; re-enrollment
// overwrites it.
type Student struct {
	ID         string          `db:"id" json:"id"`
	FullName   string          `db:"full_name" json:"full_name"`
	RollNumber string          `db:"roll_number" json:"roll_number"`
	ClassName  string          `db:"class_name" json:"class_name"`
	FaceImage  string          `db:"face_image" json:"face_image,omitempty"`
	Embedding  pq.Float64Array `db:"embedding" json:"embedding,omitempty"`
	Enrolled   bool            `db:"enrolled" json:"enrolled"`
	EnrolledAt *time.Time      `db:"enrolled_at" json:"enrolled_at,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}

// Ref returns the compact identification attached to attendance responses.
func (s *Student) Ref() StudentRef {
	return StudentRef{
		ID:         s.ID,
		FullName:   s.FullName,
		RollNumber: s.RollNumber,
		ClassName:  s.ClassName,
	}
}

// StudentRef is the minimal student identification embedded in responses.
type StudentRef struct {
	ID         string `json:"id"`
	FullName   string `json:"full_name"`
	RollNumber string `json:"roll_number"`
	ClassName  string `json:"class_name"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search    string
	ClassName string
	Enrolled  *bool
	Page      int
	PageSize  int
}
