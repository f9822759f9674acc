package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-engine/internal/dto"
	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

func newExportFixture(t *testing.T) *ExportService {
	t.Helper()
	generations := newFakeGenerationStore()
	generations.put(models.TimetableGeneration{
		ID:       "3f2a9c1d-8b7e-4c21-a5f0-1234567890ab",
		TermID:   "term-1",
		SchoolID: "school-1",
		Status:   models.GenerationStatusCompleted,
	})
	monday := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	room := "R-101"
	lessons := &fakeLessonStore{lessons: []models.ScheduledLesson{
		{ID: "l-1", GenerationID: "3f2a9c1d-8b7e-4c21-a5f0-1234567890ab", TeachingAssignmentID: "assign-1", TimeSlotID: "slot-1", Date: monday, TeacherID: "teacher-1", ClassOfferingID: "offering-1", RoomID: &room},
		{ID: "l-2", GenerationID: "3f2a9c1d-8b7e-4c21-a5f0-1234567890ab", TeachingAssignmentID: "assign-2", TimeSlotID: "slot-2", Date: monday, TeacherID: "teacher-2", ClassOfferingID: "offering-1"},
		{ID: "l-3", GenerationID: "3f2a9c1d-8b7e-4c21-a5f0-1234567890ab", TeachingAssignmentID: "assign-1", TimeSlotID: "slot-1", Date: monday.AddDate(0, 0, 7), TeacherID: "teacher-1", ClassOfferingID: "offering-1"},
	}}
	snapshot := newTimetableSnapshot()
	svc := NewExportService(generations, lessons, snapshot, snapshot, nil, nil)
	return svc
}

func TestExportServiceCSV(t *testing.T) {
	svc := newExportFixture(t)

	result, err := svc.Export(context.Background(), "3f2a9c1d-8b7e-4c21-a5f0-1234567890ab", dto.LessonQuery{})
	require.NoError(t, err)
	assert.Equal(t, "timetable-semester-1-3f2a9c1d.csv", result.Filename)
	assert.Equal(t, "text/csv; charset=utf-8", result.ContentType)
	assert.Equal(t, 3, result.Rows)

	records, err := csv.NewReader(bytes.NewReader(result.Payload)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, exportHeaders, records[0])
	assert.Equal(t, []string{"2024-01-01", "monday", "", "07:00", "07:45", "teacher-1", "offering-1", "assign-1", "R-101"}, records[1])
	assert.Equal(t, "07:45", records[2][3])
}

func TestExportServiceFiltersByQuery(t *testing.T) {
	svc := newExportFixture(t)

	result, err := svc.Export(context.Background(), "3f2a9c1d-8b7e-4c21-a5f0-1234567890ab", dto.LessonQuery{
		TeacherID: "teacher-1",
		To:        "2024-01-05",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rows)
}

func TestExportServiceXLSXAndPDF(t *testing.T) {
	svc := newExportFixture(t)

	xlsx, err := svc.Export(context.Background(), "3f2a9c1d-8b7e-4c21-a5f0-1234567890ab", dto.LessonQuery{Format: "xlsx"})
	require.NoError(t, err)
	assert.Equal(t, "timetable-semester-1-3f2a9c1d.xlsx", xlsx.Filename)
	assert.NotEmpty(t, xlsx.Payload)
	assert.Equal(t, []byte("PK"), xlsx.Payload[:2])

	pdf, err := svc.Export(context.Background(), "3f2a9c1d-8b7e-4c21-a5f0-1234567890ab", dto.LessonQuery{Format: "pdf"})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", pdf.ContentType)
	assert.True(t, bytes.HasPrefix(pdf.Payload, []byte("%PDF")))
}

func TestExportServiceErrors(t *testing.T) {
	svc := newExportFixture(t)

	_, err := svc.Export(context.Background(), "3f2a9c1d-8b7e-4c21-a5f0-1234567890ab", dto.LessonQuery{Format: "docx"})
	requireAppError(t, err, "VALIDATION_ERROR")

	_, err = svc.Export(context.Background(), "3f2a9c1d-8b7e-4c21-a5f0-1234567890ab", dto.LessonQuery{From: "2024-01-10", To: "2024-01-01"})
	requireAppError(t, err, "VALIDATION_ERROR")

	_, err = svc.Export(context.Background(), "missing", dto.LessonQuery{})
	requireAppError(t, err, "NOT_FOUND")

	other := models.WithSchoolScope(context.Background(), "school-2")
	_, err = svc.Export(other, "3f2a9c1d-8b7e-4c21-a5f0-1234567890ab", dto.LessonQuery{Format: "csv"})
	requireAppError(t, err, "FORBIDDEN")
}

func TestExportFilename(t *testing.T) {
	assert.Equal(t, "timetable-2024-25-odd-abcdef12.pdf", exportFilename("2024/25 Odd", "abcdef1234", "pdf"))
	assert.Equal(t, "timetable-abc.csv", exportFilename("  ", "abc", "csv"))
}
