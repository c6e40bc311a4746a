package route53

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/aws/smithy-go"

	"github.com/dmitrymomot/acmefront/internal/delegation"
)

var (
	ErrInvalidConfig  = errors.New("invalid route53 configuration")
	ErrZoneNotFound   = errors.New("hosted zone not found")
	ErrThrottled      = errors.New("route53 request throttled")
	ErrAccessDenied   = errors.New("route53 access denied")
	ErrOperationLimit = errors.New("route53 operation timed out")
)

// classifyError converts Route 53 errors to package and delegation errors.
func classifyError(err error, operation string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrOperationLimit, operation)
	}

	var nsz *types.NoSuchHostedZone
	if errors.As(err, &nsz) {
		return fmt.Errorf("%w: %s", ErrZoneNotFound, err)
	}

	var batch *types.InvalidChangeBatch
	if errors.As(err, &batch) {
		msg := batch.ErrorMessage()
		switch {
		case strings.Contains(msg, "already exists"):
			return delegation.ErrRecordExists
		case strings.Contains(msg, "not found"):
			return delegation.ErrRecordNotFound
		}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "PriorRequestNotComplete":
			return fmt.Errorf("%w: %s", ErrThrottled, operation)
		case "AccessDenied", "AccessDeniedException":
			return fmt.Errorf("%w: %s", ErrAccessDenied, operation)
		default:
			return fmt.Errorf("%s failed (code: %s): %w", operation, apiErr.ErrorCode(), err)
		}
	}

	return fmt.Errorf("%s failed: %w", operation, err)
}
