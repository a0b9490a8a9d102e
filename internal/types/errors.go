package types

import (
	"errors"
	"fmt"

	"nodewatch/internal/constants"
)

var (
	ErrTransport        = errors.New("transport error")
	ErrAuthRejected     = errors.New("authentication rejected")
	ErrSigningDeclined  = errors.New(constants.MsgSigningDeclined)
	ErrRequestTimeout   = errors.New("request timed out")
	ErrServer           = errors.New("server error")
	ErrPermanentFailure = errors.New(constants.MsgReconnectFailed)
	ErrNotConnected     = errors.New(constants.MsgNotConnected)
	ErrNotAuthorized    = errors.New(constants.MsgNotAuthorized)
)

// ServerError is an explicit error frame from the monitoring service.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server error: %s", e.Message)
	}
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}

func (e *ServerError) Is(target error) bool {
	return target == ErrServer
}

// Reason renders err for UI consumption.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSigningDeclined):
		return "Signature request was declined. Retry to sign again."
	case errors.Is(err, ErrPermanentFailure):
		return "Lost connection to the monitoring service. Retry to reconnect."
	case errors.Is(err, ErrAuthRejected):
		return "Authentication was rejected by the monitoring service."
	case errors.Is(err, ErrTransport):
		return "Could not reach the monitoring service."
	}
	var se *ServerError
	if errors.As(err, &se) {
		return se.Message
	}
	return err.Error()
}
