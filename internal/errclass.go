package internal

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lychee-technology/duplex"
)

var (
	permissionMarkers = []string{
		"permission-denied",
		"permission denied",
		"insufficient permissions",
		"missing or insufficient",
		"access denied",
		"accessdenied",
		"unauthorized",
		"forbidden",
	}
	rateLimitMarkers = []string{
		"rate limit",
		"rate-limit",
		"ratelimit",
		"too many requests",
		"resource-exhausted",
		"resource exhausted",
		"quota exceeded",
		"slowdown",
		"throttl",
		"status 429",
		"status code: 429",
		"status code 429",
	}
)

// postgres SQLSTATE codes
const (
	pgInsufficientPrivilege = "42501"
	pgInvalidAuthorization  = "28000"
	pgInvalidPassword       = "28P01"
	pgTooManyConnections    = "53300"
	pgConfigLimitExceeded   = "53400"
)

// ClassifyBackendError turns an adapter failure into a duplex error tagged
// with the backend role. Errors that already are duplex errors keep their
// type and gain the role when missing.
func ClassifyBackendError(role duplex.BackendRole, err error) error {
	if err == nil {
		return nil
	}
	var de *duplex.Error
	if errors.As(err, &de) {
		if de.Backend == "" {
			de.Backend = role
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return duplex.NewBackendError(role, "request aborted", err)
	}
	switch {
	case isPermissionFailure(err):
		return duplex.NewPermissionError(role, err)
	case isRateLimitFailure(err):
		return duplex.NewRateLimitError(role, err)
	default:
		return duplex.NewBackendError(role, "backend request failed", err)
	}
}

func isPermissionFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgInsufficientPrivilege, pgInvalidAuthorization, pgInvalidPassword:
			return true
		}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "Forbidden":
			return true
		}
	}
	return containsAny(err.Error(), permissionMarkers)
}

func isRateLimitFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgTooManyConnections, pgConfigLimitExceeded:
			return true
		}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.Response != nil && respErr.HTTPStatusCode() == 429 {
		return true
	}
	return containsAny(err.Error(), rateLimitMarkers)
}

func containsAny(msg string, markers []string) bool {
	lower := strings.ToLower(msg)
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
