package service

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/face-attendance-api/internal/models"
	appErrors "github.com/noah-isme/face-attendance-api/pkg/errors"
)

type mockStudentRepo struct {
	students    map[string]models.Student
	rollNumbers map[string]string
	deleted     []string
	listTotal   int
	err         error
}

func (m *mockStudentRepo) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	if m.err != nil {
		return nil, 0, m.err
	}
	students := make([]models.Student, 0, len(m.students))
	for _, s := range m.students {
		students = append(students, s)
	}
	return students, m.listTotal, nil
}

func (m *mockStudentRepo) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if s, ok := m.students[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) ExistsByRollNumber(ctx context.Context, rollNumber string, excludeID string) (bool, error) {
	if id, ok := m.rollNumbers[rollNumber]; ok {
		if excludeID == "" || id != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStudentRepo) Create(ctx context.Context, student *models.Student) error {
	if m.students == nil {
		m.students = make(map[string]models.Student)
	}
	if student.ID == "" {
		student.ID = "generated"
	}
	m.students[student.ID] = *student
	return nil
}

func (m *mockStudentRepo) Update(ctx context.Context, student *models.Student) error {
	m.students[student.ID] = *student
	return nil
}

func (m *mockStudentRepo) SetEmbedding(ctx context.Context, id string, embedding []float64, faceImage string) (*models.Student, error) {
	s, ok := m.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	s.Embedding = pq.Float64Array(embedding)
	s.Enrolled = true
	if faceImage != "" {
		s.FaceImage = faceImage
	}
	m.students[id] = s
	return &s, nil
}

func (m *mockStudentRepo) ListEnrolled(ctx context.Context) ([]models.Student, error) {
	if m.err != nil {
		return nil, m.err
	}
	var enrolled []models.Student
	for _, s := range m.students {
		if s.Enrolled && len(s.Embedding) > 0 {
			enrolled = append(enrolled, s)
		}
	}
	return enrolled, nil
}

func (m *mockStudentRepo) Delete(ctx context.Context, id string) error {
	if _, ok := m.students[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.students, id)
	m.deleted = append(m.deleted, id)
	return nil
}

type mockImageStore struct {
	saved      map[string][]byte
	deleted    []string
	saveFailed bool
}

func (m *mockImageStore) Save(filename string, data []byte) (string, error) {
	if m.saveFailed {
		return "", errors.New("disk full")
	}
	if m.saved == nil {
		m.saved = make(map[string][]byte)
	}
	m.saved[filename] = data
	return filename, nil
}

func (m *mockImageStore) DeleteAll(dir string) error {
	m.deleted = append(m.deleted, dir)
	return nil
}

func newStudentService(repo *mockStudentRepo, images *mockImageStore) *StudentService {
	return NewStudentService(repo, images, 4, validator.New(), nil, zap.NewNop())
}

func testEmbedding() []float64 {
	return []float64{0.1, 0.2, 0.3, 0.4}
}

func TestStudentServiceCreate(t *testing.T) {
	repo := &mockStudentRepo{rollNumbers: map[string]string{}}
	svc := newStudentService(repo, nil)

	student, err := svc.Create(context.Background(), CreateStudentRequest{
		FullName:   "Aisha Rahman",
		RollNumber: "R-001",
		ClassName:  "10A",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, student.ID)
	assert.False(t, student.Enrolled)
}

func TestStudentServiceCreateDuplicateRollNumber(t *testing.T) {
	repo := &mockStudentRepo{rollNumbers: map[string]string{"R-001": "st-1"}}
	svc := newStudentService(repo, nil)

	_, err := svc.Create(context.Background(), CreateStudentRequest{
		FullName:   "Aisha Rahman",
		RollNumber: "R-001",
	})
	require.Error(t, err)

	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestStudentServiceCreateMissingFields(t *testing.T) {
	repo := &mockStudentRepo{}
	svc := newStudentService(repo, nil)

	_, err := svc.Create(context.Background(), CreateStudentRequest{FullName: "No Roll"})
	require.Error(t, err)

	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestStudentServiceGetNotFound(t *testing.T) {
	svc := newStudentService(&mockStudentRepo{}, nil)

	_, err := svc.Get(context.Background(), "missing")
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestStudentServiceDeleteRemovesImages(t *testing.T) {
	repo := &mockStudentRepo{students: map[string]models.Student{"st-1": {ID: "st-1"}}}
	images := &mockImageStore{}
	svc := newStudentService(repo, images)

	require.NoError(t, svc.Delete(context.Background(), "st-1"))
	assert.Equal(t, []string{"st-1"}, images.deleted)
}

func TestStudentServiceEnrollFace(t *testing.T) {
	repo := &mockStudentRepo{students: map[string]models.Student{
		"st-1": {ID: "st-1", FullName: "Aisha Rahman", RollNumber: "R-001"},
	}}
	images := &mockImageStore{}
	svc := newStudentService(repo, images)

	payload := base64.StdEncoding.EncodeToString([]byte("fake-jpeg"))
	result, err := svc.EnrollFace(context.Background(), EnrollFaceRequest{
		StudentID:     "st-1",
		FaceEmbedding: testEmbedding(),
		FaceImage:     fmt.Sprintf("data:image/jpeg;base64,%s", payload),
	})
	require.NoError(t, err)
	assert.True(t, result.Enrolled)
	assert.Equal(t, 4, result.EmbeddingDimension)
	assert.Len(t, images.saved, 1)
	assert.True(t, repo.students["st-1"].Enrolled)
}

func TestStudentServiceEnrollFaceWrongDimension(t *testing.T) {
	repo := &mockStudentRepo{students: map[string]models.Student{"st-1": {ID: "st-1"}}}
	svc := newStudentService(repo, nil)

	_, err := svc.EnrollFace(context.Background(), EnrollFaceRequest{
		StudentID:     "st-1",
		FaceEmbedding: []float64{0.1, 0.2},
	})
	require.Error(t, err)

	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "dimension")
}

func TestStudentServiceEnrollFaceImageFailureIsNonFatal(t *testing.T) {
	repo := &mockStudentRepo{students: map[string]models.Student{"st-1": {ID: "st-1"}}}
	images := &mockImageStore{saveFailed: true}
	svc := newStudentService(repo, images)

	payload := base64.StdEncoding.EncodeToString([]byte("fake-jpeg"))
	result, err := svc.EnrollFace(context.Background(), EnrollFaceRequest{
		StudentID:     "st-1",
		FaceEmbedding: testEmbedding(),
		FaceImage:     "data:image/jpeg;base64," + payload,
	})
	require.NoError(t, err)
	assert.True(t, result.Enrolled)
	assert.Empty(t, result.FaceImage)
}

func TestStudentServiceEnrollFaceOverwrites(t *testing.T) {
	repo := &mockStudentRepo{students: map[string]models.Student{
		"st-1": {ID: "st-1", Enrolled: true, Embedding: pq.Float64Array{9, 9, 9, 9}},
	}}
	svc := newStudentService(repo, nil)

	_, err := svc.EnrollFace(context.Background(), EnrollFaceRequest{
		StudentID:     "st-1",
		FaceEmbedding: testEmbedding(),
	})
	require.NoError(t, err)
	assert.Equal(t, pq.Float64Array(testEmbedding()), repo.students["st-1"].Embedding)
}

func TestStudentServiceUpdateRollNumberConflict(t *testing.T) {
	repo := &mockStudentRepo{
		students:    map[string]models.Student{"st-1": {ID: "st-1", FullName: "Aisha Rahman", RollNumber: "R-001"}},
		rollNumbers: map[string]string{"R-002": "st-2"},
	}
	svc := newStudentService(repo, nil)

	_, err := svc.Update(context.Background(), "st-1", UpdateStudentRequest{
		FullName:   "Aisha Rahman",
		RollNumber: "R-002",
	})
	require.Error(t, err)

	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}
