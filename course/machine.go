package course

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRole is returned for any actor role outside the two reviewer roles.
	ErrInvalidRole = errors.New("course: invalid reviewer role")
	// ErrInvalidStatus is returned for a status value outside draft/authored/approved.
	ErrInvalidStatus = errors.New("course: invalid status")
	// ErrInvalidIntent is returned for an unknown state machine intent.
	ErrInvalidIntent = errors.New("course: invalid intent")
	// ErrAlreadyApproved guards approved records against moving backwards.
	ErrAlreadyApproved = errors.New("course: record already approved")
	// ErrApprovalWithoutApprover rejects an approved status no reviewer phase backs.
	ErrApprovalWithoutApprover = errors.New("course: approved status requires an approving reviewer")
	// ErrConflictingMarkers rejects an override setting authored and approved for one role.
	ErrConflictingMarkers = errors.New("course: conflicting reviewer markers")
)

type Intent string

const (
	IntentMarkDraft    Intent = "mark_draft"
	IntentMarkAuthored Intent = "mark_authored"
	IntentMarkApproved Intent = "mark_approved"
)

// IntentForStatus maps a requested status onto the intent that reaches it.
func IntentForStatus(s Status) (Intent, error) {
	switch s {
	case StatusDraft:
		return IntentMarkDraft, nil
	case StatusAuthored:
		return IntentMarkAuthored, nil
	case StatusApproved:
		return IntentMarkApproved, nil
	default:
		return "", fmt.Errorf("%w %q", ErrInvalidStatus, s)
	}
}

// DeriveStatus computes the lifecycle status implied by the two reviewer phases.
// A local approval handed to the central reviewer counts as approved.
func DeriveStatus(local, central Phase) Status {
	switch {
	case central == PhaseApproved:
		return StatusApproved
	case local == PhaseApproved && central == PhaseAuthored:
		return StatusApproved
	case local == PhaseAuthored || local == PhaseApproved || central == PhaseAuthored:
		return StatusAuthored
	default:
		return StatusDraft
	}
}

func checkRole(role Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w %q", ErrInvalidRole, role)
	}
	return nil
}

// ApplyIntent moves the acting role's phase and recomputes status. MarkDraft
// leaves status untouched.
func ApplyIntent(rec Record, role Role, intent Intent) (Record, error) {
	if err := checkRole(role); err != nil {
		return Record{}, err
	}
	if rec.Status == StatusApproved {
		if intent != IntentMarkApproved {
			return Record{}, fmt.Errorf("%w: cannot apply %s", ErrAlreadyApproved, intent)
		}
		if role == RoleLocalReviewer && rec.Central == PhaseApproved {
			return Record{}, fmt.Errorf("%w: central approval already recorded", ErrAlreadyApproved)
		}
	}

	next := rec.clone()
	other := otherRole(role)

	switch intent {
	case IntentMarkApproved:
		if role == RoleCentralReviewer {
			next.Central = PhaseApproved
			next.Local = PhaseNone
		} else {
			next.Local = PhaseApproved
			next.Central = PhaseAuthored
		}
		next.Status = DeriveStatus(next.Local, next.Central)
	case IntentMarkAuthored:
		next.setPhase(role, PhaseAuthored)
		next.setPhase(other, PhaseNone)
		next.Status = DeriveStatus(next.Local, next.Central)
	case IntentMarkDraft:
		next.setPhase(role, PhaseDrafted)
		if next.PhaseOf(other) == PhaseDrafted {
			next.setPhase(other, PhaseNone)
		}
	default:
		return Record{}, fmt.Errorf("%w %q", ErrInvalidIntent, intent)
	}

	return next, nil
}

// PromoteNext advances a record by one stage from its current state and the acting role.
func PromoteNext(rec Record, role Role) (Record, error) {
	if err := checkRole(role); err != nil {
		return Record{}, err
	}

	next := rec.clone()
	switch rec.Status {
	case StatusDraft:
		if role == RoleCentralReviewer {
			// central bypass: both tracks approved at once
			next.Local = PhaseApproved
			next.Central = PhaseApproved
			next.Status = StatusApproved
		} else {
			next.Local = PhaseApproved
			next.Status = StatusAuthored
		}
	case StatusAuthored:
		if rec.Local == PhaseApproved && rec.Central == PhaseApproved {
			next.Status = StatusApproved
		}
	case StatusApproved:
	default:
		return Record{}, fmt.Errorf("%w %q", ErrInvalidStatus, rec.Status)
	}

	return next, nil
}

// PromoteTo writes an explicit status with no reviewer phase side effects.
func PromoteTo(rec Record, status Status) (Record, error) {
	if !status.Valid() {
		return Record{}, fmt.Errorf("%w %q", ErrInvalidStatus, status)
	}
	next := rec.clone()
	next.Status = status
	if err := CheckInvariants(rec, next); err != nil {
		return Record{}, err
	}
	return next, nil
}

type ValidationKind int

const (
	ValidationNoOp ValidationKind = iota
	ValidationCentralApproval
	ValidationOverride
)

func (k ValidationKind) String() string {
	switch k {
	case ValidationNoOp:
		return "noop"
	case ValidationCentralApproval:
		return "central_approval"
	case ValidationOverride:
		return "override"
	default:
		return "unknown"
	}
}

// ClassifyValidation decides which path a validate call takes. Only a central
// reviewer sending approvedByCentral=true alone gets the guarded approval.
func ClassifyValidation(role Role, f ValidationFields) (ValidationKind, error) {
	if err := checkRole(role); err != nil {
		return ValidationNoOp, err
	}
	if f.Empty() {
		return ValidationNoOp, nil
	}
	onlyCentralApproval := f.ApprovedByCentral != nil && *f.ApprovedByCentral &&
		f.ApprovedByLocal == nil && f.AuthoredByCentral == nil &&
		f.AuthoredByLocal == nil && f.Status == nil
	if role == RoleCentralReviewer && onlyCentralApproval {
		return ValidationCentralApproval, nil
	}
	return ValidationOverride, nil
}

// ApproveAsCentral finalizes a record on the central reviewer's authority alone.
func ApproveAsCentral(rec Record) Record {
	next := rec.clone()
	if next.Local == PhaseAuthored || next.Local == PhaseApproved {
		next.Local = PhaseNone
	}
	next.Central = PhaseApproved
	next.Status = StatusApproved
	return next
}

// ApplyOverride writes the supplied markers verbatim. The only checks are the
// invariants every write honors.
func ApplyOverride(rec Record, f ValidationFields) (Record, error) {
	if isTrue(f.AuthoredByLocal) && isTrue(f.ApprovedByLocal) {
		return Record{}, fmt.Errorf("%w: local reviewer", ErrConflictingMarkers)
	}
	if isTrue(f.AuthoredByCentral) && isTrue(f.ApprovedByCentral) {
		return Record{}, fmt.Errorf("%w: central reviewer", ErrConflictingMarkers)
	}

	next := rec.clone()
	next.Local = applyMarker(next.Local, PhaseAuthored, f.AuthoredByLocal)
	next.Local = applyMarker(next.Local, PhaseApproved, f.ApprovedByLocal)
	next.Central = applyMarker(next.Central, PhaseAuthored, f.AuthoredByCentral)
	next.Central = applyMarker(next.Central, PhaseApproved, f.ApprovedByCentral)
	if f.Status != nil {
		if !f.Status.Valid() {
			return Record{}, fmt.Errorf("%w %q", ErrInvalidStatus, *f.Status)
		}
		next.Status = *f.Status
	}

	if err := CheckInvariants(rec, next); err != nil {
		return Record{}, err
	}
	return next, nil
}

func applyMarker(current, marker Phase, set *bool) Phase {
	switch {
	case set == nil:
		return current
	case *set:
		return marker
	case current == marker:
		return PhaseNone
	default:
		return current
	}
}

func isTrue(b *bool) bool {
	return b != nil && *b
}

// CheckInvariants holds for every persisted transition, administrative ones included.
func CheckInvariants(prev, next Record) error {
	if !next.Status.Valid() {
		return fmt.Errorf("%w %q", ErrInvalidStatus, next.Status)
	}
	if !next.Local.Valid() || !next.Central.Valid() {
		return fmt.Errorf("course: invalid reviewer phase %q/%q", next.Local, next.Central)
	}
	if prev.Status == StatusApproved && next.Status != StatusApproved {
		return fmt.Errorf("%w: cannot move to %s", ErrAlreadyApproved, next.Status)
	}
	if next.Status == StatusApproved && next.Local != PhaseApproved && next.Central != PhaseApproved {
		return ErrApprovalWithoutApprover
	}
	return nil
}
