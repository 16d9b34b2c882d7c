package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// KeepAliveInterval is how often ServeSSE writes a comment line to keep an
// idle connection from being closed by intermediate proxies.
const KeepAliveInterval = 15 * time.Second

// ServeSSE streams a subscription to w as Server-Sent Events until ctx is
// canceled (client disconnect) or the subscription's channel is closed.
// flush is called after every write; callers pass an http.Flusher's Flush
// method (the gin adapter in pkg/api does this), keeping this package free
// of any HTTP framework dependency.
func ServeSSE(ctx context.Context, w io.Writer, sub *Subscription, flush func()) error {
	keepAlive := time.NewTicker(KeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := writeEvent(w, evt); err != nil {
				return err
			}
			flush()

		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return err
			}
			flush()
		}
	}
}

func writeEvent(w io.Writer, evt any) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
