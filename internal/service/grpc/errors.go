package grpcsvc

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/salesmaster/internal/domain"
)

// toStatus переводит доменную ошибку в gRPC-статус. Внутренние ошибки
// логируются, а клиенту уходит обобщённое сообщение.
func toStatus(logger *log.Entry, method string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	code := classify(err)
	entry := logger.WithError(err).WithField("method", method)
	switch code {
	case codes.Internal:
		entry.Error("request failed")
		if errors.Is(err, domain.ErrConsistency) {
			return status.Error(codes.Internal, "id compaction failed, changes rolled back")
		}
		return status.Error(codes.Internal, "internal error")
	case codes.Canceled, codes.DeadlineExceeded:
		entry.Warn("request aborted")
		return status.Error(code, err.Error())
	default:
		entry.Debug("request rejected")
		return status.Error(code, err.Error())
	}
}

func classify(err error) codes.Code {
	switch {
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, domain.ErrConsistency):
		return codes.Internal
	case domain.IsNotFound(err):
		return codes.NotFound
	case errors.Is(err, domain.ErrDuplicateEmail),
		errors.Is(err, domain.ErrAlreadyInvoiced):
		return codes.AlreadyExists
	case errors.Is(err, domain.ErrCustomerHasOrders),
		errors.Is(err, domain.ErrProductReferenced):
		return codes.FailedPrecondition
	case errors.Is(err, domain.ErrInvoiceNumberConflict):
		return codes.Aborted
	case errors.Is(err, domain.ErrInvoiceSequenceExhausted):
		return codes.ResourceExhausted
	case domain.IsValidation(err):
		return codes.InvalidArgument
	default:
		return codes.Internal
	}
}
