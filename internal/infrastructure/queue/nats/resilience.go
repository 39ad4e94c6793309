package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/josephwmusso/IntraNest/internal/core/domain"
	"github.com/josephwmusso/IntraNest/internal/infrastructure/resilience"
)

// connectivityErrs are failures of the link to the broker; another request may succeed.
var connectivityErrs = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrDisconnected,
	nats.ErrConnectionReconnecting,
	context.DeadlineExceeded,
}

func isConnectivityErr(err error) bool {
	for _, target := range connectivityErrs {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func classifyNATSError(err error) resilience.ErrorClassification {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return resilience.ErrorClassification{}
	case resilience.IsCircuitOpen(err), isConnectivityErr(err):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	default:
		// Includes ErrNoResponders: with no worker subscribed, an immediate retry only
		// delays the overload signal to the client.
		return resilience.ErrorClassification{RecordFailure: true}
	}
}

// wrapTemporaryIfNeeded reports broker trouble and absent workers as domain.ErrTemporary.
func wrapTemporaryIfNeeded(err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if errors.Is(err, nats.ErrNoResponders) || classifyNATSError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, "nats request", err)
	}
	return err
}
