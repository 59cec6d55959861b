package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/adshao/go-binance/v2/common"

	"nautgate/internal/gateway/engine"
)

// Binance error codes that indicate bad or insufficient key material.
func isAuthCode(code int64) bool {
	switch code {
	case -1022, -2008, -2014, -2015:
		return true
	default:
		return false
	}
}

func mapConnectError(venueID string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		if isAuthCode(apiErr.Code) {
			return &engine.AuthFailure{VenueID: venueID, Reason: apiErr.Message}
		}
		return &engine.ConnFailure{VenueID: venueID, Reason: fmt.Sprintf("venue error %d: %s", apiErr.Code, apiErr.Message)}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return &engine.ConnFailure{VenueID: venueID, Reason: err.Error()}
}

// mapOrderError separates venue rejects from transport failures. Reject text
// is passed through verbatim so the caller sees the venue's own reason.
func mapOrderError(venueID string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		if isAuthCode(apiErr.Code) {
			return &engine.AuthFailure{VenueID: venueID, Reason: apiErr.Message}
		}
		if apiErr.Code == -1021 || apiErr.Code == -1001 {
			return &engine.ConnFailure{VenueID: venueID, Reason: apiErr.Message}
		}
		return &engine.RejectFailure{Reason: apiErr.Message}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return &engine.ConnFailure{VenueID: venueID, Reason: err.Error()}
}

func parseOrderID(venueOrderID string) (int64, error) {
	id, err := strconv.ParseInt(venueOrderID, 10, 64)
	if err != nil {
		return 0, &engine.RejectFailure{Reason: fmt.Sprintf("malformed venue order id %q", venueOrderID)}
	}
	return id, nil
}
