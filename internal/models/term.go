package models

import "time"

// Term models an academic term within the institution calendar.
type Term struct {
	ID        string    `db:"id" json:"id"`
	SchoolID  string    `db:"school_id" json:"school_id"`
	Name      string    `db:"name" json:"name"`
	StartDate time.Time `db:"start_date" json:"start_date"`
	EndDate   time.Time `db:"end_date" json:"end_date"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Holiday is a calendar date with no lessons.
type Holiday struct {
	ID     string    `db:"id" json:"id"`
	TermID string    `db:"term_id" json:"term_id"`
	Date   time.Time `db:"date" json:"date"`
	Name   string    `db:"name" json:"name"`
}
