package transport

import (
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integration-broker/core"
)

func transportError(message string, textCode string, metadata map[string]any) error {
	err := core.NewError(textCode, message)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportWrapError(source error, textCode string, message string, metadata map[string]any) error {
	if source == nil {
		return transportError(message, textCode, metadata)
	}
	err := core.WrapError(source, textCode, message)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// IsTransportFailure reports whether err means the peer was never reached or
// did not answer in time, as opposed to answering with an error status.
func IsTransportFailure(err error) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return err != nil
	}
	return rich.TextCode == core.ErrorDownstreamUnavailable
}
