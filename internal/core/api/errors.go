package api

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/solatis/endpointrules/internal/types"
)

// statusFromError maps resolution errors to gRPC status codes.
//
// Bad input is InvalidArgument. An error rule or an exhausted rule tree is a
// valid answer for the given input and maps to FailedPrecondition; the error
// rule's message is passed through verbatim. Anything from the store that is
// not a missing rule-set is treated as transient.
func statusFromError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, types.ErrMissingParameter), errors.Is(err, types.ErrInvalidParameter):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, types.ErrEndpointError):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, types.ErrNoRulesMatched):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, types.ErrRuleSetNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, types.ErrMalformedRuleSet), errors.Is(err, types.ErrTypeMismatch),
		errors.Is(err, types.ErrInvariantViolation):
		return status.Error(codes.Internal, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Unavailable, err.Error())
	}
}
