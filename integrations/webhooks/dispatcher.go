package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"votechain/observability/logging"
	"votechain/verification"
)

// EventType names the webhook topic carried in HeaderEvent.
type EventType string

const (
	// EventOTPIssued asks the delivery bridge to send a one-time code to a voter.
	EventOTPIssued EventType = "votechain.otp.issued"

	HeaderEvent     = "X-Votechain-Event"
	HeaderTimestamp = "X-Votechain-Timestamp"
	HeaderSignature = "X-Votechain-Signature"

	signaturePrefix = "v1="

	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
	defaultQueueSize   = 32
)

var (
	// ErrDispatcherClosed is returned when enqueueing after Close.
	ErrDispatcherClosed = errors.New("webhook: dispatcher closed")
	// ErrBadSignature is returned by Verify for signatures that do not match.
	ErrBadSignature = errors.New("webhook: signature mismatch")
	// ErrStaleTimestamp is returned by Verify for timestamps outside tolerance.
	ErrStaleTimestamp = errors.New("webhook: timestamp outside tolerance")
)

// OTPIssuedPayload is the body of an otp.issued delivery.
type OTPIssuedPayload struct {
	Type       EventType `json:"type"`
	UserID     string    `json:"userId"`
	Code       string    `json:"code"`
	ExpiresAt  time.Time `json:"expiresAt"`
	DeliveryID string    `json:"deliveryId"`
}

// Dispatcher posts signed events to a single endpoint from a background
// worker, retrying transient failures with exponential backoff.
type Dispatcher struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	logger      *slog.Logger
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan delivery
	wg     sync.WaitGroup
}

type delivery struct {
	event     EventType
	id        string
	body      []byte
	expiresAt time.Time
}

// permanentError stops retries for responses that will not succeed later.
type permanentError struct{ status int }

func (e permanentError) Error() string {
	return fmt.Sprintf("webhook: endpoint rejected delivery with status %d", e.status)
}

// retryAfterError carries a server supplied delay.
type retryAfterError struct {
	status int
	wait   time.Duration
}

func (e retryAfterError) Error() string {
	return fmt.Sprintf("webhook: endpoint asked to retry after %s (status %d)", e.wait, e.status)
}

// Option mutates dispatcher configuration.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			d.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			d.maxBackoff = maxBackoff
		}
	}
}

// WithLogger sets the logger used for dropped deliveries.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithClock overrides the clock used for signing and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDispatcher validates the endpoint and secret and starts the worker.
func NewDispatcher(endpoint string, secret []byte, opts ...Option) (*Dispatcher, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook: secret required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		client:      &http.Client{Timeout: 15 * time.Second},
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		logger:      slog.Default(),
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan delivery, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.wg.Add(1)
	go d.run()
	return d, nil
}

// Close stops the worker. Queued deliveries that have not started are
// dropped.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
}

// DeliverOTP queues an otp.issued event for msg.
func (d *Dispatcher) DeliverOTP(ctx context.Context, msg verification.OTPMessage) error {
	if d == nil {
		return errors.New("webhook: dispatcher not initialised")
	}
	payload := OTPIssuedPayload{
		Type:       EventOTPIssued,
		UserID:     msg.UserID,
		Code:       msg.Code,
		ExpiresAt:  msg.ExpiresAt.UTC(),
		DeliveryID: uuid.NewString(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	job := delivery{event: payload.Type, id: payload.DeliveryID, body: body, expiresAt: msg.ExpiresAt}
	select {
	case d.queue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.ctx.Done():
		return ErrDispatcherClosed
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.queue:
			d.deliver(job)
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) deliver(job delivery) {
	backoff := d.minBackoff
	for attempt := 1; ; attempt++ {
		if !job.expiresAt.IsZero() && !d.now().Before(job.expiresAt) {
			d.drop(job, attempt-1, "code expired before delivery")
			return
		}
		ctx, cancel := context.WithTimeout(d.ctx, d.client.Timeout)
		err := d.post(ctx, job)
		cancel()
		if err == nil {
			return
		}
		var rejected permanentError
		if errors.As(err, &rejected) {
			d.drop(job, attempt, err.Error())
			return
		}
		if attempt >= d.maxAttempts {
			d.drop(job, attempt, err.Error())
			return
		}
		wait := backoff
		var throttled retryAfterError
		if errors.As(err, &throttled) && throttled.wait > wait {
			wait = min(throttled.wait, d.maxBackoff)
		}
		select {
		case <-time.After(wait):
		case <-d.ctx.Done():
			return
		}
		backoff = nextBackoff(backoff, d.maxBackoff)
	}
}

func (d *Dispatcher) drop(job delivery, attempts int, reason string) {
	d.logger.Warn("webhook delivery dropped",
		slog.String("event", string(job.event)),
		logging.MaskField("deliveryId", job.id),
		slog.Int("attempts", attempts),
		slog.String("reason", reason))
}

func (d *Dispatcher) post(ctx context.Context, job delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(job.body))
	if err != nil {
		return err
	}
	timestamp := strconv.FormatInt(d.now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(job.event))
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, Sign(d.secret, timestamp, job.body))
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return classifyResponse(resp)
}

func classifyResponse(resp *http.Response) error {
	switch status := resp.StatusCode; {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable:
		seconds, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After")))
		if err == nil && seconds > 0 {
			return retryAfterError{status: status, wait: time.Duration(seconds) * time.Second}
		}
		return fmt.Errorf("webhook: delivery failed with status %d", status)
	case status == http.StatusRequestTimeout:
		return fmt.Errorf("webhook: delivery failed with status %d", status)
	case status >= 400 && status < 500:
		return permanentError{status: status}
	default:
		return fmt.Errorf("webhook: delivery failed with status %d", status)
	}
}

// Sign returns the signature header value for a body sent at timestamp
// (unix seconds). The MAC covers "timestamp.body".
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte{'.'})
	_, _ = mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received delivery. Receivers should reject timestamps
// further than tolerance from now to bound replays.
func Verify(secret []byte, timestamp string, body []byte, signature string, now time.Time, tolerance time.Duration) error {
	sent, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return fmt.Errorf("webhook: invalid timestamp: %w", err)
	}
	skew := now.Sub(time.Unix(sent, 0))
	if skew < 0 {
		skew = -skew
	}
	if tolerance > 0 && skew > tolerance {
		return ErrStaleTimestamp
	}
	expected := Sign(secret, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature))) {
		return ErrBadSignature
	}
	return nil
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max || next < current {
		return max
	}
	return next
}
