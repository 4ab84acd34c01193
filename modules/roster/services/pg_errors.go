package services

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func mapPgErrorToServiceError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return newServiceError(http.StatusNotFound, "ROSTER_NOT_FOUND", "not found", err)
	}

	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) || errors.As(err, &netErr) || pgconn.SafeToRetry(err) {
		return fatalError(err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return newServiceError(http.StatusInternalServerError, "ROSTER_INTERNAL", "internal error", err)
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		recordWriteConflict("unique")
		switch pgErr.ConstraintName {
		case "roster_members_pkey":
			return newServiceError(http.StatusConflict, "ROSTER_MEMBER_EXISTS", "member already exists", err)
		case "roster_imports_request_id_key":
			return newServiceError(http.StatusConflict, "ROSTER_IMPORT_REPLAYED", "import request already processed", err)
		case "roster_deltas_import_subject_change_key":
			return newServiceError(http.StatusConflict, "ROSTER_DELTA_DUPLICATE", "delta already recorded for this import", err)
		case "roster_approval_requests_one_open_per_member":
			return newServiceError(http.StatusConflict, "ROSTER_APPROVAL_OPEN", "member already has an open approval request", err)
		default:
			return newServiceError(http.StatusConflict, "ROSTER_CONFLICT", "unique constraint violated", err)
		}
	case "23503": // foreign_key_violation
		recordWriteConflict("foreign_key")
		return newServiceError(http.StatusUnprocessableEntity, "ROSTER_REFERENCE_NOT_FOUND", "referenced record not found", err)
	case "23514": // check_violation
		recordWriteConflict("check")
		return newServiceError(http.StatusUnprocessableEntity, "ROSTER_INVALID_BODY", "value rejected by constraint "+pgErr.ConstraintName, err)
	case "40001", "40P01": // serialization_failure, deadlock_detected
		recordWriteConflict("serialization")
		return newServiceError(http.StatusConflict, "ROSTER_RACE_LOST", "concurrent update, retry", err)
	case "55P03": // lock_not_available
		recordWriteConflict("lock")
		return newServiceError(http.StatusConflict, "ROSTER_LOCKED", "resource is locked by another operation", err)
	case "57P01", "57P02", "57P03", "08000", "08003", "08006": // shutdown / connection exceptions
		return fatalError(err)
	default:
		return newServiceError(http.StatusInternalServerError, "ROSTER_INTERNAL", fmt.Sprintf("database error (%s)", pgErr.Code), err)
	}
}
