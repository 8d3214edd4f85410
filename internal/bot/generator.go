package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	ErrEmptyReply      = errors.New("bot produced an empty reply")
	ErrInvalidResponse = errors.New("invalid response from bot API")
	ErrUnavailable     = errors.New("bot API unavailable")
)

// Generator turns a prompt into reply text. Natural-language generation
// itself lives behind this interface.
type Generator interface {
	Generate(ctx context.Context, prompt, roomID string) (string, error)
}

// GeneratorFunc adapts a function to Generator
type GeneratorFunc func(ctx context.Context, prompt, roomID string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt, roomID string) (string, error) {
	return f(ctx, prompt, roomID)
}

var cannedPhrases = []string{
	"The obstacle is the path.",
	"Let go or be dragged.",
	"The quieter you become, the more you can hear.",
	"Nature does not hurry, yet everything is accomplished.",
	"The journey of a thousand miles begins with a single step.",
	"Be like water, flowing around obstacles.",
	"In the midst of chaos, there is also opportunity.",
	"Wherever you are, be there totally.",
	"Life is a balance of holding on and letting go.",
	"Silence is the language of the wise.",
	"Muddy water is best cleared by leaving it alone.",
	"The bamboo that bends is stronger than the oak that resists.",
}

// CannedGenerator answers from a fixed phrase list, picking the phrase from
// a hash of the prompt. Used when no bot API is configured.
type CannedGenerator struct{}

func (CannedGenerator) Generate(_ context.Context, prompt, _ string) (string, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(prompt))
	return cannedPhrases[h.Sum32()%uint32(len(cannedPhrases))], nil
}

// HTTPGenerator calls a remote bot API
type HTTPGenerator struct {
	baseURL    string
	httpClient *http.Client
	attempts   int
	retryDelay time.Duration
}

type generateRequest struct {
	Prompt string `json:"prompt"`
	RoomID string `json:"room_id"`
}

type generateResponse struct {
	Reply string `json:"reply"`
}

// NewHTTPGenerator creates a new bot API client
func NewHTTPGenerator(baseURL string) *HTTPGenerator {
	return &HTTPGenerator{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		attempts:   3,
		retryDelay: 500 * time.Millisecond,
	}
}

// Generate posts the prompt to {baseURL}/v1/reply. Transport failures and
// 429/5xx answers are retried with exponential backoff; anything else fails
// at once.
func (g *HTTPGenerator) Generate(ctx context.Context, prompt, roomID string) (string, error) {
	body, err := json.Marshal(generateRequest{Prompt: prompt, RoomID: roomID})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.retryDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(g.attempts-1)), ctx)

	reply, err := backoff.RetryNotifyWithData(func() (string, error) {
		return g.post(ctx, body)
	}, policy, func(err error, next time.Duration) {
		slog.Warn("bot api call failed, retrying",
			slog.String("room_id", roomID),
			slog.String("error", err.Error()),
			slog.Duration("next", next))
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate reply: %w", err)
	}
	return reply, nil
}

// post makes one call. Errors that retrying cannot fix are permanent.
func (g *HTTPGenerator) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/reply", bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= http.StatusInternalServerError:
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	default:
		return "", backoff.Permanent(fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}

	var out generateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", backoff.Permanent(fmt.Errorf("%w: %v", ErrInvalidResponse, err))
	}
	if strings.TrimSpace(out.Reply) == "" {
		return "", backoff.Permanent(ErrEmptyReply)
	}
	return out.Reply, nil
}
