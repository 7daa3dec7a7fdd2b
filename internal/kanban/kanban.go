// Package kanban declares the application service behind the HTTP API. The
// board logic and its persistence live outside this repository.
package kanban

import (
	"context"
	"errors"
	"time"
)

// Stage is a column on the hiring board
type Stage string

const (
	StageApplied   Stage = "applied"
	StageScreening Stage = "screening"
	StageInterview Stage = "interview"
	StageOffer     Stage = "offer"
	StageHired     Stage = "hired"
	StageRejected  Stage = "rejected"
)

// Stages lists every board column in pipeline order.
var Stages = []Stage{StageApplied, StageScreening, StageInterview, StageOffer, StageHired, StageRejected}

// Valid reports whether s is a known column.
func (s Stage) Valid() bool {
	for _, known := range Stages {
		if s == known {
			return true
		}
	}
	return false
}

// Candidate is an applicant card on a position's board
type Candidate struct {
	ID         string    `json:"id"`
	PositionID string    `json:"positionId"`
	Name       string    `json:"name"`
	Email      string    `json:"email,omitempty"`
	Stage      Stage     `json:"stage"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

var (
	// ErrNotFound is returned when the position or candidate does not exist.
	ErrNotFound = errors.New("kanban: not found")
	// ErrUnavailable is returned when the service cannot serve requests.
	ErrUnavailable = errors.New("kanban: service unavailable")
)

// Service is the application service the API routes to once a request has
// passed inspection.
type Service interface {
	GetPositionCandidates(ctx context.Context, positionID string) ([]Candidate, error)
	UpdateCandidateStage(ctx context.Context, candidateID string, stage Stage) (*Candidate, error)
}

// Unavailable is the Service used until a real one is wired in.
type Unavailable struct{}

var _ Service = Unavailable{}

func (Unavailable) GetPositionCandidates(context.Context, string) ([]Candidate, error) {
	return nil, ErrUnavailable
}

func (Unavailable) UpdateCandidateStage(context.Context, string, Stage) (*Candidate, error) {
	return nil, ErrUnavailable
}
