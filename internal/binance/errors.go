// File: internal/binance/errors.go
// ============================================
package binance

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/adshao/go-binance/v2/common"
)

var (
	ErrRateLimited         = errors.New("rate limited")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientMargin  = errors.New("insufficient margin")
	ErrInvalidParams       = errors.New("invalid order parameters")
	ErrMarketVolatile      = errors.New("market too volatile")
	ErrTransient           = errors.New("transient exchange failure")
	ErrRejected            = errors.New("rejected by exchange")
	ErrInsufficientData    = errors.New("insufficient market data")
)

// Binance error codes with a dedicated classification.
const (
	codeUnknown           = 0
	codeDisconnected      = -1001
	codeTooManyRequests   = -1003
	codeTimestamp         = -1021
	codeInvalidParam      = -1102
	codeFilterFailure     = -1013
	codeBadPrecision      = -1111
	codeTooVolatile       = -1015
	codeInsufficientFunds = -2010
	codeMarginShortage    = -2019
	codeNoMarginChange    = -4046
)

// APIError is an exchange rejection carrying its classification.
type APIError struct {
	Code    int64
	Message string
	Kind    error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance error %d (%s): %s", e.Code, Reason(e.Code), e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Kind
}

// Reason maps an exchange error code to an operator-facing description.
func Reason(code int64) string {
	switch code {
	case codeTooManyRequests:
		return "request rate exceeded"
	case codeInsufficientFunds:
		return "account balance insufficient"
	case codeMarginShortage:
		return "margin insufficient"
	case codeFilterFailure:
		return "order parameters violate symbol filters"
	case codeBadPrecision:
		return "quantity or price precision invalid"
	case codeInvalidParam:
		return "missing or malformed parameter"
	case codeTooVolatile:
		return "market too volatile"
	case codeDisconnected:
		return "exchange disconnected"
	case codeTimestamp:
		return "timestamp outside recv window"
	case codeUnknown:
		return "exchange server error"
	}
	return "unrecognized exchange error"
}

func kindFor(code int64) error {
	switch code {
	case codeTooManyRequests:
		return ErrRateLimited
	case codeInsufficientFunds:
		return ErrInsufficientBalance
	case codeMarginShortage:
		return ErrInsufficientMargin
	case codeFilterFailure, codeBadPrecision, codeInvalidParam:
		return ErrInvalidParams
	case codeTooVolatile:
		return ErrMarketVolatile
	case codeDisconnected, codeTimestamp, codeUnknown:
		return ErrTransient
	}
	return ErrRejected
}

// classify converts client-library errors into the package's typed errors.
// A non-JSON error body decodes to code 0 and is treated as a server fault.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Code: apiErr.Code, Message: apiErr.Message, Kind: kindFor(apiErr.Code)}
	}
	var own *APIError
	if errors.As(err, &own) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	var urlErr *url.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}

// IsRetryable reports whether another attempt may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}
