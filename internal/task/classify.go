package task

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"fieldops/dispatch-service/internal/model"
)

// statusCoder is implemented by HTTP-style client errors.
type statusCoder interface {
	StatusCode() int
}

// Retryable reports whether err is a transient infrastructure failure.
// Errors carrying a domain kind are never retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch model.KindOf(err) {
	case model.KindTransient:
		return true
	case "":
	default:
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "08") || // connection_exception
			pgErr.Code == "40001" || // serialization_failure
			pgErr.Code == "40P01" || // deadlock_detected
			pgErr.Code == "57P01" || // admin_shutdown
			pgErr.Code == "53300" // too_many_connections
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
			return true
		}
		return false
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	}
	return false
}
