package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	AppstoreErrorBadRequest       = "APPSTORE_BAD_REQUEST"
	AppstoreErrorInvalidSignature = "APPSTORE_INVALID_SIGNATURE"
	AppstoreErrorUnknownNonce     = "APPSTORE_UNKNOWN_NONCE"
	AppstoreErrorExchangeFailed   = "APPSTORE_EXCHANGE_FAILED"
	AppstoreErrorPersistFailed    = "APPSTORE_PERSIST_FAILED"
	AppstoreErrorConfigInvalid    = "APPSTORE_CONFIG_INVALID"
	AppstoreErrorStoreFailure     = "APPSTORE_STORE_ERROR"
	AppstoreErrorNotFound         = "APPSTORE_NOT_FOUND"
	AppstoreErrorInternal         = "APPSTORE_INTERNAL_ERROR"
)

// MapError normalizes any error into the module's goerrors envelope with an
// HTTP status code and APPSTORE_* text code populated.
func MapError(err error) *goerrors.Error {
	return appstoreErrorMapper(err)
}

func appstoreErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureAppstoreErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "signature"):
		return newAppstoreError(err.Error(), goerrors.CategoryBadInput, AppstoreErrorInvalidSignature)
	case strings.Contains(msg, "correlation token"), strings.Contains(msg, "nonce"):
		return newAppstoreError(err.Error(), goerrors.CategoryBadInput, AppstoreErrorUnknownNonce)
	case strings.Contains(msg, "token exchange"):
		return newAppstoreError(err.Error(), goerrors.CategoryExternal, AppstoreErrorExchangeFailed)
	case strings.Contains(msg, "persist"):
		return newAppstoreError(err.Error(), goerrors.CategoryExternal, AppstoreErrorPersistFailed)
	case strings.Contains(msg, "config"):
		return newAppstoreError(err.Error(), goerrors.CategoryValidation, AppstoreErrorConfigInvalid)
	case strings.Contains(msg, "not found"):
		return newAppstoreError(err.Error(), goerrors.CategoryNotFound, AppstoreErrorNotFound)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newAppstoreError(err.Error(), goerrors.CategoryBadInput, AppstoreErrorBadRequest)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureAppstoreErrorEnvelope(mapped)
}

func newAppstoreError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureAppstoreErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureAppstoreErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = appstoreHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultAppstoreTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultAppstoreTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return AppstoreErrorBadRequest
	case goerrors.CategoryNotFound:
		return AppstoreErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return AppstoreErrorInvalidSignature
	case goerrors.CategoryExternal:
		return AppstoreErrorExchangeFailed
	default:
		return AppstoreErrorInternal
	}
}

func appstoreHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
