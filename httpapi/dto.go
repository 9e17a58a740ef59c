package httpapi

import (
	"time"

	"courseflow/course"
	"courseflow/participant"
	"courseflow/queue"
)

type participantBundleRequest struct {
	IDs    []string `json:"ids"`
	Status string   `json:"status"`
}

type createCourseRequest struct {
	Title        string                    `json:"title" binding:"required"`
	Description  string                    `json:"description"`
	StartsOn     time.Time                 `json:"starts_on" binding:"required"`
	EndsOn       time.Time                 `json:"ends_on" binding:"required"`
	UnitID       string                    `json:"unit_id" binding:"required"`
	LocationID   *string                   `json:"location_id"`
	Status       string                    `json:"status"`
	Participants *participantBundleRequest `json:"participants"`
}

func (r createCourseRequest) params() course.CreateParams {
	params := course.CreateParams{
		Title:           r.Title,
		Description:     r.Description,
		StartsOn:        r.StartsOn,
		EndsOn:          r.EndsOn,
		UnitID:          r.UnitID,
		LocationID:      r.LocationID,
		RequestedStatus: course.Status(r.Status),
	}
	if r.Participants != nil {
		params.Bundle = &course.ParticipantBundle{
			ParticipantIDs: r.Participants.IDs,
			Status:         course.Status(r.Participants.Status),
		}
	}
	return params
}

type promoteRequest struct {
	Status *string `json:"status"`
}

type validateRequest struct {
	ApprovedByCentral *bool   `json:"approved_by_central"`
	ApprovedByLocal   *bool   `json:"approved_by_local"`
	AuthoredByCentral *bool   `json:"authored_by_central"`
	AuthoredByLocal   *bool   `json:"authored_by_local"`
	Status            *string `json:"status"`
}

func (r validateRequest) fields() course.ValidationFields {
	f := course.ValidationFields{
		ApprovedByCentral: r.ApprovedByCentral,
		ApprovedByLocal:   r.ApprovedByLocal,
		AuthoredByCentral: r.AuthoredByCentral,
		AuthoredByLocal:   r.AuthoredByLocal,
	}
	if r.Status != nil {
		s := course.Status(*r.Status)
		f.Status = &s
	}
	return f
}

type attachRequest struct {
	ParticipantIDs []string `json:"participant_ids" binding:"required,min=1"`
	Status         string   `json:"status"`
}

type courseResponse struct {
	ID                      string    `json:"id"`
	Title                   string    `json:"title"`
	Description             string    `json:"description"`
	StartsOn                time.Time `json:"starts_on"`
	EndsOn                  time.Time `json:"ends_on"`
	UnitID                  string    `json:"unit_id"`
	LocationID              *string   `json:"location_id,omitempty"`
	Status                  string    `json:"status"`
	LocalPhase              string    `json:"local_phase"`
	CentralPhase            string    `json:"central_phase"`
	AwaitingCentralApproval bool      `json:"awaiting_central_approval"`
	Participants            []string  `json:"participants,omitempty"`
	Revision                int64     `json:"revision"`
	CreatedBy               string    `json:"created_by"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

func toCourseResponse(r course.Record) courseResponse {
	return courseResponse{
		ID:                      r.ID,
		Title:                   r.Title,
		Description:             r.Description,
		StartsOn:                r.StartsOn,
		EndsOn:                  r.EndsOn,
		UnitID:                  r.UnitID,
		LocationID:              r.LocationID,
		Status:                  string(r.Status),
		LocalPhase:              string(r.Local),
		CentralPhase:            string(r.Central),
		AwaitingCentralApproval: r.AwaitingCentralApproval(),
		Participants:            r.Participants,
		Revision:                r.Revision,
		CreatedBy:               r.CreatedBy,
		CreatedAt:               r.CreatedAt,
		UpdatedAt:               r.UpdatedAt,
	}
}

type eventResponse struct {
	ID        string           `json:"id"`
	Seq       int64            `json:"seq"`
	Operation string           `json:"operation"`
	ActorID   string           `json:"actor_id"`
	ActorRole string           `json:"actor_role"`
	Previous  *course.Snapshot `json:"previous,omitempty"`
	Next      course.Snapshot  `json:"next"`
	CreatedAt time.Time        `json:"created_at"`
}

func toEventResponses(events []course.TransitionEvent) []eventResponse {
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse{
			ID:        e.ID,
			Seq:       e.Seq,
			Operation: string(e.Operation),
			ActorID:   e.ActorID,
			ActorRole: string(e.ActorRole),
			Previous:  e.Previous,
			Next:      e.Next,
			CreatedAt: e.CreatedAt,
		})
	}
	return out
}

type queueItemResponse struct {
	courseResponse
	Reason string `json:"reason"`
}

type queuePageResponse struct {
	Items    []queueItemResponse `json:"items"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
}

func toQueuePage(items []queue.Item, page queue.Page) queuePageResponse {
	out := make([]queueItemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, queueItemResponse{
			courseResponse: toCourseResponse(it.Record),
			Reason:         string(it.Reason),
		})
	}
	return queuePageResponse{Items: out, Page: page.Page, PageSize: page.PageSize}
}

type participantResponse struct {
	ID       string  `json:"id"`
	FullName string  `json:"full_name"`
	Email    *string `json:"email,omitempty"`
}

func toParticipantResponses(ps []participant.Participant) []participantResponse {
	out := make([]participantResponse, 0, len(ps))
	for _, p := range ps {
		out = append(out, participantResponse{ID: p.ID, FullName: p.FullName, Email: p.Email})
	}
	return out
}

type reviewerResponse struct {
	ID       string  `json:"id"`
	FullName string  `json:"full_name,omitempty"`
	Role     string  `json:"role"`
	UnitID   *string `json:"unit_id,omitempty"`
}
