package scheduler

import (
	"errors"
	"fmt"
)

// ViolationKind names the rule a candidate placement or schedule broke.
type ViolationKind string

const (
	KindHardUnavailability   ViolationKind = "HARD_UNAVAILABILITY"
	KindTeacherDoubleBooking ViolationKind = "TEACHER_DOUBLE_BOOKING"
	KindClassDoubleBooking   ViolationKind = "CLASS_DOUBLE_BOOKING"
	KindRoomDoubleBooking    ViolationKind = "ROOM_DOUBLE_BOOKING"
	KindWorkloadExceeded     ViolationKind = "WORKLOAD_EXCEEDED"
	KindDailyMaxExceeded     ViolationKind = "DAILY_MAX_EXCEEDED"
	KindConsecutiveExceeded  ViolationKind = "CONSECUTIVE_EXCEEDED"
	KindMissingBreak         ViolationKind = "MISSING_BREAK"
	KindDailyMinShortfall    ViolationKind = "DAILY_MIN_SHORTFALL"
	KindUnassignedOffering   ViolationKind = "UNASSIGNED_OFFERING"
)

// placementOrder is the order CanPlace evaluates rules in.
var placementOrder = []ViolationKind{
	KindHardUnavailability,
	KindTeacherDoubleBooking,
	KindClassDoubleBooking,
	KindWorkloadExceeded,
	KindDailyMaxExceeded,
	KindConsecutiveExceeded,
	KindMissingBreak,
}

// Violation explains why a candidate placement was rejected.
type Violation struct {
	Kind            ViolationKind `json:"kind"`
	AssignmentID    string        `json:"assignmentId,omitempty"`
	TeacherID       string        `json:"teacherId,omitempty"`
	ClassOfferingID string        `json:"classOfferingId,omitempty"`
	TimeSlotID      string        `json:"timeSlotId,omitempty"`
	Date            string        `json:"date,omitempty"`
	Detail          string        `json:"detail,omitempty"`
}

// Error implements the error interface.
func (v *Violation) Error() string {
	if v == nil {
		return "<nil>"
	}
	if v.Detail != "" {
		return fmt.Sprintf("%s: %s", v.Kind, v.Detail)
	}
	return string(v.Kind)
}

// Is matches another *Violation of the same kind so callers can use errors.Is with a bare kind.
func (v *Violation) Is(target error) bool {
	t, ok := target.(*Violation)
	if !ok || v == nil || t == nil {
		return false
	}
	return t.Kind == v.Kind
}

// KindOf extracts the violation kind from err, or "" when err is not a violation.
func KindOf(err error) ViolationKind {
	var v *Violation
	if errors.As(err, &v) {
		return v.Kind
	}
	return ""
}

var (
	// ErrInvalidConstraints is returned when school constraints are self-contradictory.
	ErrInvalidConstraints = errors.New("invalid school constraints")
	// ErrStorageDoubleBooking is returned by committers when storage rejected a lesson as a duplicate booking.
	ErrStorageDoubleBooking = errors.New("storage rejected lesson as double booking")
	// ErrInvalidTransition is returned for lifecycle moves the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid generation status transition")
	// ErrPublishRejected is returned when a generation cannot be published.
	ErrPublishRejected = errors.New("publish rejected")
	// ErrArchiveBlocked is returned when a published generation is still referenced.
	ErrArchiveBlocked = errors.New("archive blocked by active references")
)

// SchedulingFailure records a period that no slot could accept.
type SchedulingFailure struct {
	AssignmentID    string                `json:"assignmentId"`
	TeacherID       string                `json:"teacherId"`
	ClassOfferingID string                `json:"classOfferingId"`
	Period          int                   `json:"period"`
	Reason          string                `json:"reason"`
	Rejections      map[ViolationKind]int `json:"rejections,omitempty"`
}

func (f SchedulingFailure) Error() string {
	return fmt.Sprintf("assignment %s period %d: %s", f.AssignmentID, f.Period, f.Reason)
}
