package auth

import (
	"time"

	"courseflow/course"
)

// Account is the directory entry behind an authenticated reviewer.
// It mirrors the reviewers table and should not include JSON annotations so it
// can be reused by different presentation layers.
type Account struct {
	ID        string
	FullName  string
	Role      course.Role
	UnitID    *string
	CreatedAt time.Time
}

// Reviewer returns the actor form of the account.
func (a Account) Reviewer() course.Reviewer {
	return course.Reviewer{ID: a.ID, Role: a.Role}
}
