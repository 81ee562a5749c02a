package streams

import (
	"log/slog"
	"os"
	"time"

	"github.com/nats-io/nats.go"
)

type Options struct {
	URL             string
	Name            string
	NkeyUser        string
	NkeySeed        string
	CredentialsPath string
}

// Connect dials NATS with nkeys when both parts are set, then with a
// credentials file when it exists, otherwise plain.
func Connect(opts Options) (*nats.Conn, error) {
	url := opts.URL
	if url == "" {
		url = nats.DefaultURL
	}

	natsOpts := []nats.Option{
		nats.Name(opts.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.ErrorHandler(errorHandler),
		nats.DisconnectErrHandler(disconnectHandler),
		nats.ReconnectHandler(reconnectHandler),
		nats.ClosedHandler(closedHandler),
	}

	// connect with nkeys if specified
	if len(opts.NkeyUser) > 0 && len(opts.NkeySeed) > 0 {
		natsOpts = append(natsOpts, nats.Nkey(opts.NkeyUser, nkeySigner(opts.NkeySeed)))
		return nats.Connect(url, natsOpts...)
	}

	// connect with credentials if exists
	if len(opts.CredentialsPath) > 0 {
		if _, err := os.Stat(opts.CredentialsPath); err == nil {
			natsOpts = append(natsOpts, nats.UserCredentials(opts.CredentialsPath))
		}
	}

	return nats.Connect(url, natsOpts...)
}

// error handler helper functions

func errorHandler(nc *nats.Conn, sub *nats.Subscription, err error) {
	slog.Error("nats error", "err", err.Error())

	if err == nats.ErrSlowConsumer && sub != nil {
		pendingMsgs, pendingBytes, err := sub.Pending()
		if err != nil {
			slog.Error("failed to get pending messages", "err", err.Error())
			return
		}
		droppedMsgs, err := sub.Dropped()
		if err != nil {
			slog.Error("failed to get dropped messages", "err", err.Error())
			return
		}
		slog.Error("falling behind with pending messages",
			"droppedMsgs", droppedMsgs,
			"pendingMsgs", pendingMsgs,
			"pendingBytes", pendingBytes,
			"subject", sub.Subject,
		)
	}
}

func disconnectHandler(nc *nats.Conn, err error) {
	slog.Debug("nats disconnected", "err", err)
}

func reconnectHandler(nc *nats.Conn) {
	slog.Debug("nats reconnected", "url", nc.ConnectedUrl())
}

func closedHandler(nc *nats.Conn) {
	slog.Debug("nats connection closed", "reason", nc.LastError())
}
