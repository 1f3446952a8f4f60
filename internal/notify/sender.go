package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// DefaultPushURL is the Expo push endpoint.
const DefaultPushURL = "https://exp.host/--/api/v2/push/send"

var (
	// ErrMissingPushToken indicates a message without a destination.
	ErrMissingPushToken = errors.New("notify: push token is required")
	// ErrRejected indicates the push service refused a message.
	ErrRejected = errors.New("notify: message rejected")
)

// Message is a single push notification.
type Message struct {
	To    string `json:"to"`
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
	Sound string `json:"sound,omitempty"`
}

// Sender delivers push messages.
type Sender interface {
	Send(ctx context.Context, message Message) error
}

// ExpoSenderConfig configures ExpoSender.
type ExpoSenderConfig struct {
	PushURL    string
	RetryMax   int
	RetryWait  time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// ExpoSender posts messages to an Expo-compatible push endpoint, retrying
// transient failures.
type ExpoSender struct {
	pushURL string
	client  *retryablehttp.Client
	logger  *zap.Logger
}

type expoTicket struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type expoResponse struct {
	Data []expoTicket `json:"data"`
}

// NewExpoSender constructs an ExpoSender.
func NewExpoSender(cfg ExpoSenderConfig) *ExpoSender {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pushURL := strings.TrimSpace(cfg.PushURL)
	if pushURL == "" {
		pushURL = DefaultPushURL
	}
	client := retryablehttp.NewClient()
	client.Logger = nil
	if cfg.HTTPClient != nil {
		client.HTTPClient = cfg.HTTPClient
	}
	if cfg.RetryMax > 0 {
		client.RetryMax = cfg.RetryMax
	}
	if cfg.RetryWait > 0 {
		client.RetryWaitMin = cfg.RetryWait
		client.RetryWaitMax = cfg.RetryWait
	}
	client.RequestLogHook = func(_ retryablehttp.Logger, request *http.Request, attempt int) {
		if attempt > 0 {
			logger.Debug("retrying push request", zap.String("url", request.URL.String()), zap.Int("attempt", attempt))
		}
	}
	return &ExpoSender{pushURL: pushURL, client: client, logger: logger}
}

// Send posts message and inspects the returned ticket.
func (s *ExpoSender) Send(ctx context.Context, message Message) error {
	if strings.TrimSpace(message.To) == "" {
		return ErrMissingPushToken
	}
	payload, err := json.Marshal([]Message{message})
	if err != nil {
		return err
	}
	request, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.pushURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("notify: push request: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: status %d", ErrRejected, response.StatusCode)
	}

	var decoded expoResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("notify: decode push response: %w", err)
	}
	for _, ticket := range decoded.Data {
		if ticket.Status != "ok" {
			return fmt.Errorf("%w: %s", ErrRejected, ticket.Message)
		}
	}
	return nil
}

var _ Sender = (*ExpoSender)(nil)
