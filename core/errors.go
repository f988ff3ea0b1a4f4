package core

import (
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorConfiguration       = "WXOPEN_CONFIGURATION"
	ErrorDuplicateAuthorizer = "WXOPEN_DUPLICATE_AUTHORIZER"
	ErrorDuplicateComponent  = "WXOPEN_DUPLICATE_COMPONENT"
	ErrorUnknownTenant       = "WXOPEN_UNKNOWN_TENANT"
	ErrorUnknownAuthorizer   = "WXOPEN_UNKNOWN_AUTHORIZER"
	ErrorRemoteAPI           = "WXOPEN_REMOTE_API"
	ErrorNetwork             = "WXOPEN_NETWORK"
	ErrorDecode              = "WXOPEN_DECODE"
	ErrorCredentialStopped   = "WXOPEN_CREDENTIAL_STOPPED"
	ErrorRateLimited         = "WXOPEN_RATE_LIMITED"
	ErrorBadInput            = "WXOPEN_BAD_INPUT"
	ErrorInternal            = "WXOPEN_INTERNAL_ERROR"
)

// ConfigurationError reports an operation invoked before its prerequisites
// exist, such as asking for a component token before any verify ticket.
func ConfigurationError(message string, metadata map[string]any) *goerrors.Error {
	return newServiceError(message, goerrors.CategoryBadInput, ErrorConfiguration, http.StatusPreconditionFailed, metadata)
}

func DuplicateAuthorizerError(componentAppID, authorizerAppID string) *goerrors.Error {
	return newServiceError(
		fmt.Sprintf("core: authorizer %q already registered for component %q", authorizerAppID, componentAppID),
		goerrors.CategoryConflict,
		ErrorDuplicateAuthorizer,
		http.StatusConflict,
		map[string]any{"component_app_id": componentAppID, "authorizer_app_id": authorizerAppID},
	)
}

func DuplicateComponentError(componentAppID string) *goerrors.Error {
	return newServiceError(
		fmt.Sprintf("core: component %q already registered", componentAppID),
		goerrors.CategoryConflict,
		ErrorDuplicateComponent,
		http.StatusConflict,
		map[string]any{"component_app_id": componentAppID},
	)
}

func UnknownTenantError(componentAppID string) *goerrors.Error {
	return newServiceError(
		fmt.Sprintf("core: no component registered for %q", componentAppID),
		goerrors.CategoryNotFound,
		ErrorUnknownTenant,
		http.StatusNotFound,
		map[string]any{"component_app_id": componentAppID},
	)
}

func UnknownAuthorizerError(componentAppID, authorizerAppID string) *goerrors.Error {
	return newServiceError(
		fmt.Sprintf("core: authorizer %q not registered for component %q", authorizerAppID, componentAppID),
		goerrors.CategoryNotFound,
		ErrorUnknownAuthorizer,
		http.StatusNotFound,
		map[string]any{"component_app_id": componentAppID, "authorizer_app_id": authorizerAppID},
	)
}

// RemoteAPIError carries a non-zero errcode returned by the platform API.
func RemoteAPIError(endpoint string, errCode int, errMsg string) *goerrors.Error {
	return newServiceError(
		fmt.Sprintf("core: %s returned errcode %d: %s", endpoint, errCode, strings.TrimSpace(errMsg)),
		goerrors.CategoryExternal,
		ErrorRemoteAPI,
		http.StatusBadGateway,
		map[string]any{"endpoint": endpoint, "errcode": errCode, "errmsg": errMsg},
	)
}

func NetworkError(source error, endpoint string) *goerrors.Error {
	err := goerrors.Wrap(source, goerrors.CategoryExternal, "core: request to "+endpoint+" failed").
		WithCode(http.StatusServiceUnavailable).
		WithTextCode(ErrorNetwork)
	err.WithMetadata(map[string]any{"endpoint": endpoint})
	return err
}

func DecodeError(source error, message string, metadata map[string]any) *goerrors.Error {
	if strings.TrimSpace(message) == "" {
		message = "core: decode notification"
	}
	if source == nil {
		return newServiceError(message, goerrors.CategoryBadInput, ErrorDecode, http.StatusBadRequest, metadata)
	}
	err := goerrors.Wrap(source, goerrors.CategoryBadInput, message).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorDecode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func credentialStoppedError(name string) *goerrors.Error {
	return newServiceError(
		"core: credential "+name+" is stopped",
		goerrors.CategoryOperation,
		ErrorCredentialStopped,
		http.StatusConflict,
		map[string]any{"credential": name},
	)
}

func badInputError(message string, metadata map[string]any) *goerrors.Error {
	return newServiceError(message, goerrors.CategoryBadInput, ErrorBadInput, http.StatusBadRequest, metadata)
}

func IsConfigurationError(err error) bool   { return hasTextCode(err, ErrorConfiguration) }
func IsDuplicateAuthorizer(err error) bool  { return hasTextCode(err, ErrorDuplicateAuthorizer) }
func IsDuplicateComponent(err error) bool   { return hasTextCode(err, ErrorDuplicateComponent) }
func IsUnknownTenant(err error) bool        { return hasTextCode(err, ErrorUnknownTenant) }
func IsUnknownAuthorizer(err error) bool    { return hasTextCode(err, ErrorUnknownAuthorizer) }
func IsRemoteAPIError(err error) bool       { return hasTextCode(err, ErrorRemoteAPI) }
func IsNetworkError(err error) bool         { return hasTextCode(err, ErrorNetwork) }
func IsDecodeError(err error) bool          { return hasTextCode(err, ErrorDecode) }
func IsCredentialStopped(err error) bool    { return hasTextCode(err, ErrorCredentialStopped) }
func IsRateLimited(err error) bool          { return hasTextCode(err, ErrorRateLimited) }

func hasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

// RemoteErrorCode extracts the platform errcode from a RemoteAPIError.
func RemoteErrorCode(err error) (int, bool) {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.TextCode != ErrorRemoteAPI {
		return 0, false
	}
	code, ok := richErr.Metadata["errcode"].(int)
	return code, ok
}

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "verify ticket"):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ErrorConfiguration, http.StatusPreconditionFailed, nil)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ErrorBadInput, 0, nil)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func newServiceError(
	message string,
	category goerrors.Category,
	textCode string,
	code int,
	metadata map[string]any,
) *goerrors.Error {
	err := goerrors.New(message, category).WithTextCode(textCode)
	if code > 0 {
		err.WithCode(code)
	}
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return ensureServiceErrorEnvelope(err)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorUnknownTenant
	case goerrors.CategoryConflict:
		return ErrorDuplicateAuthorizer
	case goerrors.CategoryExternal:
		return ErrorRemoteAPI
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	default:
		return ErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
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
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
