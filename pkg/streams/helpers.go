package streams

import (
	"log/slog"
	"time"

	"github.com/nats-io/nkeys"
)

// HeaderPublisher names the service that published a report.
const HeaderPublisher = "publishedBy"

// nkeySigner signs the server nonce with the user seed.
func nkeySigner(seed string) func([]byte) ([]byte, error) {
	return func(nonce []byte) ([]byte, error) {
		kp, err := nkeys.FromSeed([]byte(seed))
		if err != nil {
			return nil, err
		}
		defer kp.Wipe()
		return kp.Sign(nonce)
	}
}

// Publisher returns who published a message, empty when unknown.
func Publisher(headers map[string][]string) string {
	if v := headers[HeaderPublisher]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func elapsed(start time.Time) slog.Attr {
	return slog.Duration("elapsed", time.Since(start))
}
