package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"courseflow/auth"
	"courseflow/course"
)

var errForbidden = errors.New("httpapi: course not visible to reviewer")

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, course.ErrNotFound), errors.Is(err, errForbidden):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrReviewerNotFound),
		errors.Is(err, auth.ErrRoleMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, course.ErrInvalidRole), errors.Is(err, course.ErrOutOfScope):
		return http.StatusForbidden
	case errors.Is(err, course.ErrInvalidStatus),
		errors.Is(err, course.ErrInvalidIntent),
		errors.Is(err, course.ErrConflictingMarkers),
		errors.Is(err, course.ErrInvalidParams),
		errors.Is(err, course.ErrUnknownUnit):
		return http.StatusBadRequest
	case errors.Is(err, course.ErrUnknownParticipant):
		return http.StatusUnprocessableEntity
	case errors.Is(err, course.ErrAlreadyApproved),
		errors.Is(err, course.ErrApprovalWithoutApprover),
		errors.Is(err, course.ErrConcurrentUpdate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, log zerolog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).
			Str("request_id", c.GetString(requestIDKey)).
			Str("path", c.FullPath()).
			Msg("request failed")
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
