package log

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"

	besca "github.com/mariiabilous/besca/pkg/errors"
)

// ErrFmtHandler is a slog handler that adds the cockroachdb/errors stack
// trace and the ErrorCode of the record's "error" attribute as separate
// attributes.
type ErrFmtHandler struct {
	handler slog.Handler
}

// WrapByErrFmtHandler wraps handler with an ErrFmtHandler.
func WrapByErrFmtHandler(handler slog.Handler) slog.Handler {
	return &ErrFmtHandler{handler: handler}
}

func (eh *ErrFmtHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return eh.handler.Enabled(ctx, l)
}

func (eh *ErrFmtHandler) Handle(ctx context.Context, r slog.Record) error {
	var stacktrace, code string
	hasCode := false
	r.Attrs(func(attr slog.Attr) bool {
		switch attr.Key {
		case ErrorCodeKey:
			hasCode = true
		case ErrAttrKey:
			if err, ok := attr.Value.Any().(error); ok {
				stacktrace = extractStacktrace(err)
				code = ErrorCode(err)
			}
		}
		return true
	})
	if stacktrace != "" {
		r.AddAttrs(slog.String(StacktraceAttrKey, stacktrace))
	}
	if code != "" && !hasCode {
		r.AddAttrs(slog.String(ErrorCodeKey, code))
	}
	return eh.handler.Handle(ctx, r)
}

func (eh *ErrFmtHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ErrFmtHandler{handler: eh.handler.WithAttrs(attrs)}
}

func (eh *ErrFmtHandler) WithGroup(g string) slog.Handler {
	return &ErrFmtHandler{handler: eh.handler.WithGroup(g)}
}

// extractStacktrace returns the first safe detail of err, which for errors
// created through errors.WithStack is the formatted stack.
func extractStacktrace(err error) string {
	if details := errors.GetSafeDetails(err).SafeDetails; len(details) > 0 {
		return details[0]
	}
	return ""
}

// ErrorCode maps the typed pipeline errors to an ErrorCodeKey value, or ""
// for anything else.
func ErrorCode(err error) string {
	switch {
	case errors.HasType(err, (*besca.MalformedInputError)(nil)):
		return ErrorMalformedInput
	case errors.HasType(err, (*besca.NoSharedFeaturesError)(nil)):
		return ErrorNoSharedFeatures
	case errors.HasType(err, (*besca.InsufficientClassesError)(nil)):
		return ErrorInsufficientClass
	case errors.HasType(err, (*besca.GeneMismatchError)(nil)):
		return ErrorGeneMismatch
	case errors.HasType(err, (*besca.ProbabilityUnsupportedError)(nil)):
		return ErrorNoProbabilities
	case errors.HasType(err, (*besca.NotFittedError)(nil)):
		return ErrorNotFitted
	case errors.HasType(err, (*besca.ValidationError)(nil)):
		return ErrorInvalidParameter
	case errors.HasType(err, (*besca.ConvergenceWarning)(nil)):
		return ErrorConvergence
	}
	return ""
}
