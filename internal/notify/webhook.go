package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/okrylov/countersign/internal/logging"
	"github.com/okrylov/countersign/internal/models"
)

/*
WebhookSink posts every event as JSON to the chat bridge, which turns
it into channel announcements and message edits. The circuit breaker
stops hammering the bridge while it is down; events delivered during an
open circuit are dropped, the bridge re-renders from a snapshot on the
next event anyway.
*/
type WebhookSink struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "notifications-cb",
			MaxRequests: 1,
			Timeout:     5 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Logger.Infof("circuit breaker %q changed from %s to %s", name, from.String(), to.String())
			},
		}),
	}
}

// Deliver implements Sink.
func (s *WebhookSink) Deliver(event models.Event) {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.post(event)
	})
	if err != nil {
		logging.Logger.Warnf("webhook delivery of %s for task %s failed: %v", event.Kind, event.Task.ID, err)
	}
}

func (s *WebhookSink) post(event models.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	resp, err := s.client.Post(s.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
