package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"
)

// Signature verification errors.
var (
	ErrMissingSignature = errors.New("slack: missing request signature")
	ErrInvalidSignature = errors.New("slack: invalid request signature")
	ErrStaleRequest     = errors.New("slack: request timestamp outside tolerance")
)

const (
	headerSignature = "X-Slack-Signature"
	headerTimestamp = "X-Slack-Request-Timestamp"
	headerRetryNum  = "X-Slack-Retry-Num"

	signatureVersion   = "v0"
	signatureTolerance = 5 * time.Minute
	maxEventBodyBytes  = 1 << 20
)

// VerifySignature checks a v0 request signature over body.
func VerifySignature(secret string, header http.Header, body []byte, now time.Time) error {
	sig := header.Get(headerSignature)
	ts := header.Get(headerTimestamp)
	if sig == "" || ts == "" {
		return ErrMissingSignature
	}

	secs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if math.Abs(now.Sub(time.Unix(secs, 0)).Seconds()) > signatureTolerance.Seconds() {
		return ErrStaleRequest
	}

	if !hmac.Equal([]byte(sig), []byte(computeSignature(secret, ts, body))) {
		return ErrInvalidSignature
	}
	return nil
}

func computeSignature(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signatureVersion + ":" + ts + ":"))
	_, _ = mac.Write(body)
	return signatureVersion + "=" + hex.EncodeToString(mac.Sum(nil))
}

// EventsHandler serves the HTTP Events API endpoint.
type EventsHandler struct {
	signingSecret string
	handler       EventHandler
	logger        *slog.Logger
	now           func() time.Time
}

// NewEventsHandler creates an http.Handler for signed Events API requests.
func NewEventsHandler(signingSecret string, handler EventHandler, logger *slog.Logger) (*EventsHandler, error) {
	if handler == nil {
		return nil, ErrHandlerRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventsHandler{
		signingSecret: signingSecret,
		handler:       handler,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// ServeHTTP verifies, acknowledges and dispatches one Events API request.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if err := VerifySignature(h.signingSecret, r.Header, body, h.now()); err != nil {
		h.logger.Warn("rejected events request", slog.String("error", err.Error()))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var cb eventCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if cb.Type == "url_verification" {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(cb.Challenge))
		return
	}

	if retry := r.Header.Get(headerRetryNum); retry != "" {
		h.logger.Debug("ignoring events retry",
			slog.String("event_id", cb.EventID),
			slog.String("retry_num", retry),
		)
		w.WriteHeader(http.StatusOK)
		return
	}

	ev, ok, err := parseFileShared(body)
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
	if ok {
		h.handler(r.Context(), ev)
	}
}
