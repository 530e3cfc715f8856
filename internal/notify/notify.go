package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/oshokin/door-monitor/internal/config"
	"github.com/oshokin/door-monitor/internal/logger"
	"github.com/oshokin/door-monitor/internal/metrics"
	"github.com/oshokin/door-monitor/internal/version"
)

// maxErrorBodyBytes bounds how much of a failed response ends up in the log.
const maxErrorBodyBytes = 4 << 10

var (
	// ErrNotificationFailure is reported when the call failed or the API answered with a non-2xx status.
	ErrNotificationFailure = errors.New("notification failure")
	// ErrConfigurationMissing is reported when the credential or an address is not configured.
	ErrConfigurationMissing = errors.New("notification configuration missing")
)

// HTTPDoer is the part of *http.Client used by the notifier.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Result describes one send attempt. It is recorded in the workflow history.
type Result struct {
	// Sent is true when the API accepted the message.
	Sent bool `json:"sent"`
	// StatusCode is the HTTP status returned by the API, zero when no response arrived.
	StatusCode int `json:"status_code,omitempty"`
	// Error describes why the message was not sent.
	Error string `json:"error,omitempty"`
}

// Option customizes a Notifier.
type Option func(*Notifier)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client HTTPDoer) Option {
	return func(n *Notifier) {
		if client != nil {
			n.client = client
		}
	}
}

// Notifier posts text messages.
type Notifier struct {
	// settings holds the API address, credentials and message.
	settings config.Notification
	// client performs the requests.
	client HTTPDoer
}

// New creates a notifier for the provided settings.
func New(settings config.Notification, opts ...Option) *Notifier {
	if settings.Timeout <= 0 {
		settings.Timeout = config.DefaultNotificationTimeout
	}

	if settings.APIURL == "" {
		settings.APIURL = config.DefaultNotificationAPIURL
	}

	if settings.Body == "" {
		settings.Body = config.DefaultNotificationBody
	}

	n := &Notifier{
		settings: settings,
		client:   &http.Client{Timeout: settings.Timeout},
	}

	for _, opt := range opts {
		opt(n)
	}

	return n
}

// Send performs one outbound call. It does not retry and never returns an error:
// failures are logged and described in the result.
func (n *Notifier) Send(ctx context.Context) Result {
	result := n.send(ctx)
	metrics.RecordNotification(result.Sent)

	if result.Sent {
		logger.InfoKV(ctx, "Notification sent", "to", n.settings.To, "status_code", result.StatusCode)
	} else {
		logger.ErrorKV(ctx, "Notification not sent", "to", n.settings.To, "error", result.Error)
	}

	return result
}

func (n *Notifier) send(ctx context.Context) Result {
	if err := n.checkSettings(); err != nil {
		return Result{Error: err.Error()}
	}

	form := url.Values{}
	form.Set("From", n.settings.From)
	form.Set("To", n.settings.To)
	form.Set("Body", n.settings.Body)

	requestCtx, cancel := context.WithTimeout(ctx, n.settings.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(
		requestCtx,
		http.MethodPost,
		n.endpoint(),
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return Result{Error: fmt.Errorf("%w: build request: %w", ErrNotificationFailure, err).Error()}
	}

	req.SetBasicAuth(n.settings.AccountSID, n.settings.AccountToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := n.client.Do(req)
	if err != nil {
		return Result{Error: fmt.Errorf("%w: %w", ErrNotificationFailure, err).Error()}
	}

	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.WarnKV(ctx, "Failed to close notification response", "error", closeErr)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

		return Result{
			StatusCode: resp.StatusCode,
			Error: fmt.Errorf("%w: status %d: %s",
				ErrNotificationFailure, resp.StatusCode, strings.TrimSpace(string(body))).Error(),
		}
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	return Result{Sent: true, StatusCode: resp.StatusCode}
}

// checkSettings reports the missing required settings.
func (n *Notifier) checkSettings() error {
	missing := make([]string, 0, 4)

	for _, field := range []struct {
		name  string
		value string
	}{
		{"account token", n.settings.AccountToken},
		{"account sid", n.settings.AccountSID},
		{"sender", n.settings.From},
		{"recipient", n.settings.To},
	} {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.name)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigurationMissing, strings.Join(missing, ", "))
	}

	return nil
}

// endpoint returns the send-message URL of the account.
func (n *Notifier) endpoint() string {
	return fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		strings.TrimRight(n.settings.APIURL, "/"),
		url.PathEscape(n.settings.AccountSID),
	)
}

