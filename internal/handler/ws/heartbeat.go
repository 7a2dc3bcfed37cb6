package ws

import (
	"context"
	"log"
	"time"
)

// heartbeatLoop probes the client on a fixed interval and declares the
// session dead when no traffic of any kind arrives within the timeout
// window. It runs as its own task and raises cancellation through
// session.close rather than polling shared state.
func (s *session) heartbeatLoop(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Since(s.lastSeen()) > timeout {
				log.Printf("[ws] heartbeat timeout user=%s, closing session", s.userID)
				s.close()
				return
			}
			if err := s.send(heartbeatFrame()); err != nil {
				log.Printf("[ws] heartbeat send failed user=%s: %v", s.userID, err)
				s.close()
				return
			}
		}
	}
}
