package mail

import (
	"errors"
	"net/http"

	"triage_server/core/port/out"
	"triage_server/pkg/apperr"
	"triage_server/pkg/logger"
)

// ClientError logs a provider failure in full and returns what the client may see.
func ClientError(err error, op string) error {
	if err == nil {
		return nil
	}
	if apperr.IsAppError(err) {
		return err
	}

	var pe *out.ProviderError
	if !errors.As(err, &pe) {
		logger.WithError(err).Error("[MailService] %s failed", op)
		return apperr.InternalWithError(err)
	}

	logger.WithError(err).WithField("code", string(pe.Code)).Warn("[MailService] %s failed", op)
	switch pe.Code {
	case out.ProviderErrTokenExpired, out.ProviderErrAuth:
		return apperr.Unauthorized("Google authorization expired, please sign in again")
	case out.ProviderErrNotFound:
		return apperr.NotFoundMessage("Email not found")
	case out.ProviderErrRateLimit:
		return apperr.RateLimited(60)
	case out.ProviderErrInvalidInput:
		return apperr.Wrap(err, apperr.CodeBadRequest, "Request rejected by mail provider", http.StatusBadRequest)
	default:
		return apperr.ExternalError("gmail", err)
	}
}
