package optimizer

import "github.com/noah-isme/sma-timetable-engine/internal/models"

// JobStatus is the optimizer's view of a job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Done reports whether the job will not change again.
func (s JobStatus) Done() bool {
	return s == JobCompleted || s == JobFailed
}

// SchoolConfig identifies the school and its pacing limits.
type SchoolConfig struct {
	ID          string                   `json:"id" validate:"required"`
	Name        string                   `json:"name"`
	Constraints models.SchoolConstraints `json:"constraints"`
}

// ProblemConstraint is an extra rule handed to the optimizer.
type ProblemConstraint struct {
	Type  string      `json:"type" validate:"required,oneof=teacher_unavailability room_unavailability class_unavailability teacher_preference room_preference consecutive_lessons break_requirements"`
	Value interface{} `json:"value"`
}

// Problem is the payload submitted to the optimizer.
type Problem struct {
	SchoolConfig      SchoolConfig        `json:"school_config"`
	TermID            string              `json:"term_id" validate:"required"`
	GenerationID      string              `json:"timetable_generation_id" validate:"required"`
	SelectedClasses   []string            `json:"selected_classes" validate:"required,min=1"`
	SelectedTeachers  []string            `json:"selected_teachers" validate:"required,min=1"`
	Algorithm         string              `json:"algorithm" validate:"oneof=ai manual"`
	OptimizationLevel string              `json:"optimization_level" validate:"oneof=basic advanced"`
	TimeLimit         int                 `json:"time_limit" validate:"min=60,max=3600"`
	Constraints       []ProblemConstraint `json:"constraints,omitempty" validate:"omitempty,dive"`
	OptimizationGoals []string            `json:"optimization_goals,omitempty" validate:"omitempty,dive,oneof=minimize_teacher_gaps minimize_class_gaps maximize_teacher_preferences maximize_room_preferences distribute_subjects_evenly"`
	Holidays          []string            `json:"holidays,omitempty" validate:"omitempty,dive,datetime=2006-01-02"`
	TermStart         string              `json:"term_start,omitempty" validate:"omitempty,datetime=2006-01-02"`
	TermEnd           string              `json:"term_end,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// DefaultGoals are requested when the caller does not choose any.
var DefaultGoals = []string{
	"minimize_teacher_gaps",
	"minimize_class_gaps",
	"distribute_subjects_evenly",
}

// SubmitResponse is returned by the submit endpoint.
type SubmitResponse struct {
	JobID string `json:"job_id"`
}

// ResultLesson is one lesson proposed by the optimizer.
type ResultLesson struct {
	TeachingAssignmentID string `json:"teaching_assignment_id"`
	Date                 string `json:"date"`
	TimeSlotID           string `json:"timeslot_id"`
}

// Statistics are the optimizer's own counts. They are informational; imports are re-audited.
type Statistics struct {
	TotalLessons       int `json:"total_lessons"`
	ScheduledLessons   int `json:"scheduled_lessons"`
	UnscheduledLessons int `json:"unscheduled_lessons"`
	TeacherConflicts   int `json:"teacher_conflicts"`
	ClassConflicts     int `json:"class_conflicts"`
}

// Result carries a completed job's output.
type Result struct {
	Lessons    []ResultLesson `json:"lessons"`
	Statistics *Statistics    `json:"statistics,omitempty"`
}

// StatusResponse is returned by the job status endpoint.
type StatusResponse struct {
	Status   JobStatus `json:"status"`
	Progress float64   `json:"progress,omitempty"`
	Message  string    `json:"message,omitempty"`
	Result   *Result   `json:"result,omitempty"`
	Error    string    `json:"error,omitempty"`
}
