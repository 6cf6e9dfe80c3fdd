package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/lib/pq"

	"github.com/kozaktomas/lookalike/internal/database"
)

// classify wraps err with the gateway sentinel it belongs to. Connection
// failures become database.ErrUnavailable; pgvector dimension complaints become
// database.ErrDimensionMismatch. Anything else is returned wrapped as-is.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case isDimensionError(err):
		return fmt.Errorf("%s: %w: %w", op, database.ErrDimensionMismatch, err)
	case isUnavailable(err):
		return fmt.Errorf("%s: %w: %w", op, database.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isDimensionError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	msg := pqErr.Message
	// pgvector: "expected %d dimensions, not %d" and "different vector dimensions %d and %d"
	return strings.Contains(msg, "dimensions, not") || strings.Contains(msg, "different vector dimensions")
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", // connection exception
			"53", // insufficient resources
			"57": // operator intervention (shutdown, cancel)
			return true
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
