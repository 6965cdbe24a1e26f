package dispatch

import "fmt"

// Kind enumerates the dispatch-level error categories from the error
// handling design: validation and tenant/backend resolution failures
// surface directly to the caller, everything else is either absorbed by
// the best-effort caches or mapped to 502 by the upstream proxy.
type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindTenantMissing      Kind = "tenant_missing"
	KindTenantUnknown      Kind = "tenant_unknown"
	KindBackendUnavailable Kind = "backend_unavailable"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
)

// Error carries the HTTP status a dispatch failure should surface as.
type Error struct {
	Kind    Kind
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

func validationError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Status: 400, Message: fmt.Sprintf(format, args...)}
}

func tenantMissingError() *Error {
	return &Error{Kind: KindTenantMissing, Status: 401, Message: "X-Tenant-Id header is required"}
}

func tenantUnknownError(id string) *Error {
	return &Error{Kind: KindTenantUnknown, Status: 401, Message: fmt.Sprintf("unknown tenant %q", id)}
}

func backendUnavailableError(backend string) *Error {
	return &Error{Kind: KindBackendUnavailable, Status: 400, Message: fmt.Sprintf("backend %q has no configured upstream", backend)}
}

func upstreamUnavailableError(backend string) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Status: 502, Message: fmt.Sprintf("upstream %q unavailable", backend)}
}
