package api

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"spa-cms/internal/collection"
	"spa-cms/internal/editor"
	"spa-cms/internal/imaging"
	"spa-cms/internal/logger"
	"spa-cms/internal/section"
	"spa-cms/internal/sections"
	"spa-cms/internal/session"
	"spa-cms/internal/storage"
)

type AppError struct {
	Code    string          `json:"code"`
	Status  int             `json:"-"`
	Message string          `json:"message"`
	Details []ErrorDetail   `json:"details,omitempty"`
	Groups  []section.Group `json:"groups,omitempty"`
}

type ErrorDetail struct {
	Section string `json:"section"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFoundError(what, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  fiber.StatusNotFound,
		Message: fmt.Sprintf("%s %s not found", what, id),
	}
}

func InvalidPayload(msg string) *AppError {
	return NewAppError("INVALID_PAYLOAD", fiber.StatusBadRequest, msg)
}

func UnauthorizedError(msg string) *AppError {
	return NewAppError("UNAUTHORIZED", fiber.StatusUnauthorized, msg)
}

func ForbiddenError(msg string) *AppError {
	return NewAppError("FORBIDDEN", fiber.StatusForbidden, msg)
}

func UploadFailed(field string, err error) *AppError {
	return &AppError{
		Code:    "UPLOAD_FAILED",
		Status:  fiber.StatusUnprocessableEntity,
		Message: "Upload failed",
		Details: []ErrorDetail{{Field: field, Message: err.Error()}},
	}
}

func details(errs []section.ValidationError) []ErrorDetail {
	out := make([]ErrorDetail, len(errs))
	for i, e := range errs {
		out[i] = ErrorDetail{Section: e.Section, Field: e.Field, Message: e.Message}
	}
	return out
}

// saveError renders a failed Save: validation and backend rejections are
// field-level 422s, anything else one generic 502.
func saveError(err *editor.SaveError) *AppError {
	switch {
	case errors.Is(err, editor.ErrInvalid):
		return &AppError{
			Code:    "VALIDATION_FAILED",
			Status:  fiber.StatusUnprocessableEntity,
			Message: "Validation failed",
			Details: details(err.Errors),
			Groups:  err.Groups(),
		}
	case errors.Is(err, editor.ErrRejected):
		return &AppError{
			Code:    "PERSISTENCE_FAILED",
			Status:  fiber.StatusUnprocessableEntity,
			Message: "The record was rejected",
			Details: details(err.Errors),
			Groups:  err.Groups(),
		}
	default:
		return NewAppError("SAVE_FAILED", fiber.StatusBadGateway, "Could not save the record, please try again")
	}
}

// toAppError maps domain errors onto API errors. It returns nil for errors
// with no public mapping.
func toAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var saveErr *editor.SaveError
	if errors.As(err, &saveErr) {
		return saveError(saveErr)
	}
	var uploadErr *imaging.UploadError
	if errors.As(err, &uploadErr) {
		return UploadFailed(uploadErr.Field, uploadErr.Err)
	}

	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return NewAppError("SESSION_NOT_FOUND", fiber.StatusNotFound, "Editing session not found or expired")
	case errors.Is(err, editor.ErrUnknownKind):
		return NewAppError("UNKNOWN_EDITOR", fiber.StatusNotFound, err.Error())
	case errors.Is(err, editor.ErrNotFound), errors.Is(err, storage.ErrInvalidPath):
		return NewAppError("NOT_FOUND", fiber.StatusNotFound, err.Error())
	case errors.Is(err, editor.ErrUnknownSection), errors.Is(err, collection.ErrUnknownItem):
		return NewAppError("NOT_FOUND", fiber.StatusNotFound, err.Error())
	case errors.Is(err, editor.ErrClosed):
		return NewAppError("SESSION_CLOSED", fiber.StatusConflict, "The record was already saved")
	case errors.Is(err, editor.ErrUnsupported),
		errors.Is(err, sections.ErrUnknownField),
		errors.Is(err, sections.ErrInvalidValue),
		errors.Is(err, sections.ErrNotImageField),
		errors.Is(err, sections.ErrCropRequired),
		errors.Is(err, sections.ErrCropNotAllowed),
		errors.Is(err, collection.ErrPartitionMismatch),
		errors.Is(err, imaging.ErrQueueEmpty),
		errors.Is(err, section.ErrInvalidStatus):
		return InvalidPayload(err.Error())
	case errors.Is(err, storage.ErrUnknownCategory),
		errors.Is(err, storage.ErrFileTooLarge),
		errors.Is(err, storage.ErrNotImage),
		errors.Is(err, storage.ErrNoFiles):
		return UploadFailed("", err)
	}
	return nil
}

// ErrorHandler renders every handler error as an ErrorResponse.
func ErrorHandler(log *logger.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		if appErr := toAppError(err); appErr != nil {
			return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(ErrorResponse{
				Error: &AppError{Code: "HTTP_ERROR", Message: fiberErr.Message},
			})
		}

		log.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error: &AppError{
				Code:    "INTERNAL_ERROR",
				Message: "Internal server error",
			},
		})
	}
}
