package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/clinic-automation/pkg/logging"
)

const resolverTimeout = 10 * time.Second

// EventTypeResolver maps an upstream event URI to a visit type name.
type EventTypeResolver interface {
	ResolveVisitType(ctx context.Context, uri string) (string, error)
}

// CalendlyResolver looks up Calendly scheduled events and event types. A
// scheduled-event resource is followed to its event type once.
type CalendlyResolver struct {
	httpClient *http.Client
	token      string
	logger     *logging.Logger

	mu    sync.RWMutex
	cache map[string]string
}

// NewCalendlyResolver constructs a resolver. token is the Calendly personal
// access token; an empty token still allows public lookups.
func NewCalendlyResolver(token string, httpClient *http.Client, logger *logging.Logger) *CalendlyResolver {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: resolverTimeout}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CalendlyResolver{
		httpClient: httpClient,
		token:      strings.TrimSpace(token),
		logger:     logger,
		cache:      make(map[string]string),
	}
}

type calendlyResource struct {
	Resource struct {
		Name      string `json:"name"`
		EventType string `json:"event_type"`
	} `json:"resource"`
}

// ResolveVisitType returns the event type name for uri.
func (c *CalendlyResolver) ResolveVisitType(ctx context.Context, uri string) (string, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return "", fmt.Errorf("booking: empty event uri")
	}
	c.mu.RLock()
	name, ok := c.cache[uri]
	c.mu.RUnlock()
	if ok {
		return name, nil
	}

	res, err := c.get(ctx, uri)
	if err != nil {
		return "", err
	}
	name = strings.TrimSpace(res.Resource.Name)
	if et := strings.TrimSpace(res.Resource.EventType); et != "" && et != uri {
		typed, err := c.get(ctx, et)
		if err != nil {
			return "", err
		}
		if n := strings.TrimSpace(typed.Resource.Name); n != "" {
			name = n
		}
	}
	if name == "" {
		return "", fmt.Errorf("booking: event %s has no name", uri)
	}

	c.mu.Lock()
	c.cache[uri] = name
	c.mu.Unlock()
	return name, nil
}

func (c *CalendlyResolver) get(ctx context.Context, uri string) (*calendlyResource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(body)
		if len(msg) > 300 {
			msg = msg[:300]
		}
		c.logger.Warn("calendly API non-2xx response", "status", resp.StatusCode, "uri", uri, "body", msg)
		return nil, fmt.Errorf("calendly API returned %d: %s", resp.StatusCode, msg)
	}

	var out calendlyResource
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}
