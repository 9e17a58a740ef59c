package course

import (
	"slices"
	"time"
)

// Status is the externally visible lifecycle stage of a course record.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusAuthored Status = "authored"
	StatusApproved Status = "approved"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusAuthored, StatusApproved:
		return true
	default:
		return false
	}
}

// Phase is a single reviewer's own progress marker on a record.
type Phase string

const (
	PhaseNone     Phase = "none"
	PhaseDrafted  Phase = "drafted"
	PhaseAuthored Phase = "authored"
	PhaseApproved Phase = "approved"
)

func (p Phase) Valid() bool {
	switch p {
	case PhaseNone, PhaseDrafted, PhaseAuthored, PhaseApproved:
		return true
	default:
		return false
	}
}

type Role string

const (
	RoleLocalReviewer   Role = "local_reviewer"
	RoleCentralReviewer Role = "central_reviewer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleLocalReviewer, RoleCentralReviewer:
		return true
	default:
		return false
	}
}

// Reviewer is the actor invoking an operation. It is always passed explicitly.
type Reviewer struct {
	ID   string
	Role Role
}

// Record is the domain representation of a training course under review.
// It mirrors the courses table and carries no JSON annotations so presentation
// layers map it themselves.
type Record struct {
	ID           string
	Title        string
	Description  string
	StartsOn     time.Time
	EndsOn       time.Time
	UnitID       string
	LocationID   *string
	Status       Status
	Local        Phase
	Central      Phase
	Participants []string
	Revision     int64
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PhaseOf returns the phase held by role, or PhaseNone for an unknown role.
func (r Record) PhaseOf(role Role) Phase {
	switch role {
	case RoleLocalReviewer:
		return r.Local
	case RoleCentralReviewer:
		return r.Central
	default:
		return PhaseNone
	}
}

func (r *Record) setPhase(role Role, p Phase) {
	switch role {
	case RoleLocalReviewer:
		r.Local = p
	case RoleCentralReviewer:
		r.Central = p
	}
}

// AwaitingCentralApproval reports a record whose status claims approval while the
// central reviewer has only been handed the authored text. This happens after a
// local approval and stays until the central reviewer approves.
func (r Record) AwaitingCentralApproval() bool {
	return r.Status == StatusApproved && r.Central != PhaseApproved
}

func (r Record) clone() Record {
	c := r
	c.Participants = slices.Clone(r.Participants)
	return c
}

func (r Record) snapshot() Snapshot {
	return Snapshot{
		Status:       r.Status,
		Local:        r.Local,
		Central:      r.Central,
		Participants: slices.Clone(r.Participants),
	}
}

// sameState compares only the fields transitions may change.
func (r Record) sameState(o Record) bool {
	return r.Status == o.Status &&
		r.Local == o.Local &&
		r.Central == o.Central &&
		slices.Equal(r.Participants, o.Participants)
}

func otherRole(role Role) Role {
	if role == RoleLocalReviewer {
		return RoleCentralReviewer
	}
	return RoleLocalReviewer
}

// ValidationFields carries the optional marker writes of a validate call.
// A nil pointer means the field was not sent.
type ValidationFields struct {
	ApprovedByCentral *bool
	ApprovedByLocal   *bool
	AuthoredByCentral *bool
	AuthoredByLocal   *bool
	Status            *Status
}

func (f ValidationFields) Empty() bool {
	return f.ApprovedByCentral == nil &&
		f.ApprovedByLocal == nil &&
		f.AuthoredByCentral == nil &&
		f.AuthoredByLocal == nil &&
		f.Status == nil
}

// ParticipantBundle attaches participants during create and optionally drives a
// status intent for the creating role.
type ParticipantBundle struct {
	ParticipantIDs []string
	Status         Status
}

type CreateParams struct {
	Title       string
	Description string
	StartsOn    time.Time
	EndsOn      time.Time
	UnitID      string
	LocationID  *string
	// RequestedStatus is advisory only; records always start in draft.
	RequestedStatus Status
	Bundle          *ParticipantBundle
}

type Operation string

const (
	OperationCreate             Operation = "create"
	OperationPromote            Operation = "promote"
	OperationValidate           Operation = "validate"
	OperationOverride           Operation = "override"
	OperationAttachParticipants Operation = "attach_participants"
)

// Snapshot is the state captured before and after a transition.
type Snapshot struct {
	Status       Status   `json:"status"`
	Local        Phase    `json:"local"`
	Central      Phase    `json:"central"`
	Participants []string `json:"participants,omitempty"`
}

// TransitionEvent is one row of a course's append-only history.
type TransitionEvent struct {
	ID        string
	CourseID  string
	Seq       int64
	Operation Operation
	ActorID   string
	ActorRole Role
	Previous  *Snapshot
	Next      Snapshot
	CreatedAt time.Time
}
