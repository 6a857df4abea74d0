package dispatch

import (
	"errors"

	"fieldops/dispatch-service/internal/model"
	"fieldops/dispatch-service/internal/task"
)

// ErrorKind returns the kind of err, including infrastructure failures the
// task runner classified as transient.
func ErrorKind(err error) model.Kind {
	if k := model.KindOf(err); k != "" {
		return k
	}
	var f *task.Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// ErrorCode returns the stable machine-readable code of err, or "".
func ErrorCode(err error) string {
	if c := model.CodeOf(err); c != "" {
		return c
	}
	var f *task.Failure
	if errors.As(err, &f) {
		return f.Code
	}
	return ""
}
