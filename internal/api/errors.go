package api

import (
	"errors"
	"net/http"

	"github.com/socialnet/backend/internal/auth"
	apperrors "github.com/socialnet/backend/internal/errors"
	"github.com/socialnet/backend/internal/transcode"
)

// toAppError maps domain errors onto the API error taxonomy. Errors that are
// already AppErrors pass through.
func toAppError(err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}

	switch {
	case errors.Is(err, transcode.ErrQueueFull):
		return apperrors.QueueFull().WithCause(err)
	case errors.Is(err, transcode.ErrDispatcherStopped):
		return apperrors.Unavailable("transcoding is shutting down").WithCause(err)
	case errors.Is(err, transcode.ErrJobNotFound):
		return apperrors.JobNotFound().WithCause(err)
	case errors.Is(err, transcode.ErrForbidden):
		return apperrors.Forbidden("job belongs to another user").WithCause(err)
	case errors.Is(err, transcode.ErrMissingLinkage):
		return apperrors.ValidationError(err.Error())
	}
	return apperrors.InternalError("an unexpected error occurred").WithCause(err)
}

func currentUser(r *http.Request) (*auth.UserContext, error) {
	user := auth.GetUserFromContext(r.Context())
	if user == nil {
		return nil, apperrors.Unauthorized("user not authenticated")
	}
	return user, nil
}
