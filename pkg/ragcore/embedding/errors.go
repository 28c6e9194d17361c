package embedding

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"ragcore-service/pkg/ragcore/rerr"
)

func classifyStatusErr(status int, body []byte) error {
	switch {
	case status == http.StatusTooManyRequests, status >= 500:
		return rerr.New(rerr.KindTransientUpstream, "embedding.http", fmt.Errorf("status %d: %s", status, string(body)))
	default:
		return rerr.New(rerr.KindPermanentUpstream, "embedding.http", fmt.Errorf("status %d: %s", status, string(body)))
	}
}

func classifyTransportErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return rerr.New(rerr.KindTransientUpstream, "embedding.http", err)
	}
	return rerr.New(rerr.KindTransientUpstream, "embedding.http", err)
}
