package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"courseflow/auth"
	"courseflow/course"
	"courseflow/participant"
	"courseflow/queue"
)

// CourseService is the transition and read surface of the course package.
type CourseService interface {
	Create(ctx context.Context, actor course.Reviewer, params course.CreateParams) (course.Record, error)
	Get(ctx context.Context, id string) (course.Record, error)
	History(ctx context.Context, id string) ([]course.TransitionEvent, error)
	Promote(ctx context.Context, id string, actor course.Reviewer, explicitStatus *course.Status) (course.Record, error)
	Validate(ctx context.Context, id string, actor course.Reviewer, fields course.ValidationFields) (course.Record, error)
	Override(ctx context.Context, id string, actor course.Reviewer, fields course.ValidationFields) (course.Record, error)
	AttachParticipants(ctx context.Context, id string, participantIDs []string, status course.Status, actor course.Reviewer) (course.Record, error)
}

// QueueService serves the per-role work queues and read visibility.
type QueueService interface {
	ListApprovedFor(ctx context.Context, reviewer course.Reviewer, page queue.Page) ([]queue.Item, error)
	ListAuthoredFor(ctx context.Context, reviewer course.Reviewer, page queue.Page) ([]queue.Item, error)
	ListPendingCountersign(ctx context.Context, reviewer course.Reviewer, page queue.Page) ([]queue.Item, error)
	ListCentralAuthored(ctx context.Context, reviewer course.Reviewer, page queue.Page) ([]queue.Item, error)
	Visible(ctx context.Context, reviewer course.Reviewer, courseID string) (bool, error)
}

type ParticipantReader interface {
	ForCourse(ctx context.Context, courseID string) ([]participant.Participant, error)
}

type AccountReader interface {
	Account(ctx context.Context, reviewerID string) (auth.Account, error)
}

// ScopeCache drops a reviewer's cached unit so the next lookup reads Postgres.
type ScopeCache interface {
	Invalidate(ctx context.Context, reviewerID string) error
}

type Handler struct {
	courses      CourseService
	queues       QueueService
	participants ParticipantReader
	accounts     AccountReader
	scopeCache   ScopeCache
	log          zerolog.Logger
}

func NewHandler(courses CourseService, queues QueueService, participants ParticipantReader, accounts AccountReader, logger zerolog.Logger) *Handler {
	return &Handler{
		courses:      courses,
		queues:       queues,
		participants: participants,
		accounts:     accounts,
		log:          logger.With().Str("component", "httpapi").Logger(),
	}
}

// WithScopeCache makes GET /me refresh the reviewer's cached unit, so a
// reassignment is picked up at the reviewer's next sign-in.
func (h *Handler) WithScopeCache(cache ScopeCache) *Handler {
	h.scopeCache = cache
	return h
}

func (h *Handler) actor(c *gin.Context) (course.Reviewer, bool) {
	reviewer, ok := reviewerFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	}
	return reviewer, ok
}

// POST /api/v1/courses
func (h *Handler) CreateCourse(c *gin.Context) {
	reviewer, ok := h.actor(c)
	if !ok {
		return
	}

	var req createCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.courses.Create(c.Request.Context(), reviewer, req.params())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, toCourseResponse(rec))
}

// GET /api/v1/courses/:id
func (h *Handler) GetCourse(c *gin.Context) {
	reviewer, ok := h.actor(c)
	if !ok || !h.visible(c, reviewer) {
		return
	}

	rec, err := h.courses.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, toCourseResponse(rec))
}

// GET /api/v1/courses/:id/history
func (h *Handler) CourseHistory(c *gin.Context) {
	reviewer, ok := h.actor(c)
	if !ok || !h.visible(c, reviewer) {
		return
	}

	events, err := h.courses.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": toEventResponses(events)})
}

// GET /api/v1/courses/:id/participants
func (h *Handler) CourseParticipants(c *gin.Context) {
	reviewer, ok := h.actor(c)
	if !ok || !h.visible(c, reviewer) {
		return
	}

	ps, err := h.participants.ForCourse(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": toParticipantResponses(ps)})
}

// POST /api/v1/courses/:id/promote
func (h *Handler) Promote(c *gin.Context) {
	reviewer, ok := h.actor(c)
	if !ok || !h.visible(c, reviewer) {
		return
	}

	var req promoteRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var explicit *course.Status
	if req.Status != nil {
		s := course.Status(*req.Status)
		explicit = &s
	}

	rec, err := h.courses.Promote(c.Request.Context(), c.Param("id"), reviewer, explicit)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, toCourseResponse(rec))
}

// POST /api/v1/courses/:id/validate
func (h *Handler) Validate(c *gin.Context) {
	h.writeFields(c, h.courses.Validate)
}

// POST /api/v1/courses/:id/override
func (h *Handler) Override(c *gin.Context) {
	h.writeFields(c, h.courses.Override)
}

type fieldsWriter func(ctx context.Context, id string, actor course.Reviewer, fields course.ValidationFields) (course.Record, error)

func (h *Handler) writeFields(c *gin.Context, write fieldsWriter) {
	reviewer, ok := h.actor(c)
	if !ok || !h.visible(c, reviewer) {
		return
	}

	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := write(c.Request.Context(), c.Param("id"), reviewer, req.fields())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, toCourseResponse(rec))
}

// POST /api/v1/courses/:id/participants
func (h *Handler) AttachParticipants(c *gin.Context) {
	reviewer, ok := h.actor(c)
	if !ok || !h.visible(c, reviewer) {
		return
	}

	var req attachRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.courses.AttachParticipants(c.Request.Context(), c.Param("id"), req.ParticipantIDs, course.Status(req.Status), reviewer)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, toCourseResponse(rec))
}

type queueLister func(ctx context.Context, reviewer course.Reviewer, page queue.Page) ([]queue.Item, error)

func (h *Handler) listQueue(list queueLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		reviewer, ok := h.actor(c)
		if !ok {
			return
		}

		pageNum, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
		page := queue.Page{Page: pageNum, PageSize: pageSize}.Normalize()

		items, err := list(c.Request.Context(), reviewer, page)
		if err != nil {
			writeError(c, h.log, err)
			return
		}
		c.JSON(http.StatusOK, toQueuePage(items, page))
	}
}

// GET /api/v1/me
func (h *Handler) Me(c *gin.Context) {
	reviewer, ok := h.actor(c)
	if !ok {
		return
	}

	resp := reviewerResponse{ID: reviewer.ID, Role: string(reviewer.Role)}
	if h.accounts != nil {
		account, err := h.accounts.Account(c.Request.Context(), reviewer.ID)
		if err != nil && !errors.Is(err, auth.ErrReviewerNotFound) {
			writeError(c, h.log, err)
			return
		}
		resp.FullName = account.FullName
		resp.UnitID = account.UnitID
	}
	if h.scopeCache != nil && reviewer.Role == course.RoleLocalReviewer {
		if err := h.scopeCache.Invalidate(c.Request.Context(), reviewer.ID); err != nil {
			h.log.Warn().Err(err).Str("reviewer_id", reviewer.ID).Msg("unit cache refresh failed")
		}
	}
	c.JSON(http.StatusOK, resp)
}

// visible aborts with 404 when the reviewer may not read or write the course.
func (h *Handler) visible(c *gin.Context, reviewer course.Reviewer) bool {
	ok, err := h.queues.Visible(c.Request.Context(), reviewer, c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return false
	}
	if !ok {
		writeError(c, h.log, errForbidden)
		return false
	}
	return true
}
