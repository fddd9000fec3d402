package service

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/face-attendance-api/internal/models"
	appErrors "github.com/noah-isme/face-attendance-api/pkg/errors"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	ExistsByRollNumber(ctx context.Context, rollNumber string, excludeID string) (bool, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	SetEmbedding(ctx context.Context, id string, embedding []float64, faceImage string) (*models.Student, error)
	ListEnrolled(ctx context.Context) ([]models.Student, error)
	Delete(ctx context.Context, id string) error
}

type imageStorage interface {
	Save(filename string, data []byte) (string, error)
	DeleteAll(dir string) error
}

// CreateStudentRequest holds payload for registering students.
type CreateStudentRequest struct {
	FullName   string `json:"full_name" validate:"required"`
	RollNumber string `json:"roll_number" validate:"required"`
	ClassName  string `json:"class_name"`
}

// UpdateStudentRequest holds payload for updating student profiles.
type UpdateStudentRequest struct {
	FullName   string `json:"full_name" validate:"required"`
	RollNumber string `json:"roll_number" validate:"required"`
	ClassName  string `json:"class_name"`
}

// EnrollFaceRequest carries a reference descriptor for one student.
type EnrollFaceRequest struct {
	StudentID     string    `json:"student_id" validate:"required"`
	FaceEmbedding []float64 `json:"face_embedding" validate:"required"`
	FaceImage     string    `json:"face_image"`
}

// EnrollFaceResult reports the enrolled student.
type EnrollFaceResult struct {
	Student            models.StudentRef `json:"student"`
	Enrolled           bool              `json:"enrolled"`
	FaceImage          string            `json:"face_image,omitempty"`
	EmbeddingDimension int               `json:"embedding_dimension"`
}

// StudentService handles student registration, profile changes and face
// enrollment.
type StudentService struct {
	repo         studentRepository
	images       imageStorage
	embeddingDim int
	validator    *validator.Validate
	metrics      *MetricsService
	logger       *zap.Logger
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, images imageStorage, embeddingDim int, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if embeddingDim <= 0 {
		embeddingDim = 128
	}
	return &StudentService{repo: repo, images: images, embeddingDim: embeddingDim, validator: validate, metrics: metrics, logger: logger}
}

// List returns students and pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return students, pagination, nil
}

// Get returns one student.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// Create registers a new, unenrolled student.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	exists, err := s.repo.ExistsByRollNumber(ctx, req.RollNumber, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate roll number")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student with this roll number already exists")
	}
	student := &models.Student{
		FullName:   req.FullName,
		RollNumber: req.RollNumber,
		ClassName:  req.ClassName,
		Enrolled:   false,
	}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}
	return student, nil
}

// Update modifies a student's profile.
func (s *StudentService) Update(ctx context.Context, id string, req UpdateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	student, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.RollNumber != student.RollNumber {
		exists, err := s.repo.ExistsByRollNumber(ctx, req.RollNumber, id)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate roll number")
		}
		if exists {
			return nil, appErrors.Clone(appErrors.ErrConflict, "student with this roll number already exists")
		}
	}
	student.FullName = req.FullName
	student.RollNumber = req.RollNumber
	student.ClassName = req.ClassName
	if err := s.repo.Update(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}
	return student, nil
}

// Delete removes a student along with their stored face images.
func (s *StudentService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
	}
	if s.images != nil {
		if err := s.images.DeleteAll(id); err != nil {
			s.logger.Warn("failed to remove student images", zap.String("student_id", id), zap.Error(err))
		}
	}
	return nil
}

// ListEnrolled returns the candidate pool of students carrying embeddings.
func (s *StudentService) ListEnrolled(ctx context.Context) ([]models.Student, error) {
	students, err := s.repo.ListEnrolled(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrolled students")
	}
	return students, nil
}

// EnrollFace stores a student's reference descriptor, overwriting any prior
// one. The embedding write and the enrolled flag flip happen in one statement
// so a failed image save can never leave the flag set without a descriptor.
func (s *StudentService) EnrollFace(ctx context.Context, req EnrollFaceRequest) (*EnrollFaceResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	if len(req.FaceEmbedding) != s.embeddingDim {
		msg := fmt.Sprintf("invalid face embedding dimension: expected %d, received %d", s.embeddingDim, len(req.FaceEmbedding))
		return nil, appErrors.Clone(appErrors.ErrValidation, msg)
	}

	student, err := s.Get(ctx, req.StudentID)
	if err != nil {
		return nil, err
	}

	imagePath := ""
	if req.FaceImage != "" {
		imagePath = s.saveFaceImage(student.ID, req.FaceImage)
	}

	updated, err := s.repo.SetEmbedding(ctx, student.ID, req.FaceEmbedding, imagePath)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store face embedding")
	}

	if s.metrics != nil {
		s.metrics.RecordEnrollment()
	}
	s.logger.Info("face enrolled",
		zap.String("student_id", updated.ID),
		zap.String("roll_number", updated.RollNumber),
		zap.Int("embedding_dimension", len(updated.Embedding)),
	)

	return &EnrollFaceResult{
		Student:            updated.Ref(),
		Enrolled:           updated.Enrolled,
		FaceImage:          updated.FaceImage,
		EmbeddingDimension: len(updated.Embedding),
	}, nil
}

// saveFaceImage decodes a base64 data URL and writes it under the student's
// image directory. Image persistence is best-effort: a failure is logged and
// enrollment proceeds without the image.
func (s *StudentService) saveFaceImage(studentID, dataURL string) string {
	if s.images == nil {
		return ""
	}
	mediaType, payload, ok := splitDataURL(dataURL)
	if !ok {
		s.logger.Warn("ignoring malformed face image payload", zap.String("student_id", studentID))
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		s.logger.Warn("failed to decode face image", zap.String("student_id", studentID), zap.Error(err))
		return ""
	}
	ext := "jpg"
	if idx := strings.Index(mediaType, "/"); idx >= 0 && idx+1 < len(mediaType) {
		ext = mediaType[idx+1:]
	}
	filename := fmt.Sprintf("%s/face-%d.%s", studentID, time.Now().UnixNano(), ext)
	stored, err := s.images.Save(filename, raw)
	if err != nil {
		s.logger.Warn("failed to save face image", zap.String("student_id", studentID), zap.Error(err))
		return ""
	}
	return stored
}

// splitDataURL extracts the media type and base64 payload from a
// "data:image/...;base64,..." string.
func splitDataURL(raw string) (mediaType, payload string, ok bool) {
	if !strings.HasPrefix(raw, "data:") {
		return "", "", false
	}
	rest := raw[len("data:"):]
	sep := strings.Index(rest, ";base64,")
	if sep <= 0 {
		return "", "", false
	}
	mediaType = rest[:sep]
	payload = rest[sep+len(";base64,"):]
	if !strings.HasPrefix(mediaType, "image/") || payload == "" {
		return "", "", false
	}
	return mediaType, payload, true
}
