package api

import "github.com/kestrel-proxy/relaygate/internal/errs"

func dispatchBadRequest(message string) error {
	return errs.New(errs.SchemaViolation, message)
}

func dispatchInternal(message string) error {
	return errs.New(errs.Internal, message)
}
