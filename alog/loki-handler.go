package alog

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/afiskon/promtail-client/promtail"
)

const defaultLokiPushURL = "http://localhost:3100/api/prom/push"

type LokiHandlerOptions struct {
	Labels  map[string]string
	PushURL string
}

// NewLokiHandler ships the logs to a loki instance. Use it for local development only:
// in production log to stdout and let the container runtime ship the logs.
//
// If loki is not reachable, the records are dropped until a background
// connection attempt succeeds. Cancel ctx to stop the attempts.
func NewLokiHandler(ctx context.Context, opt *LokiHandlerOptions) *LokiHandler {
	conf := getPromtailConfig(opt)

	buf := &bytes.Buffer{}
	handler := &LokiHandler{
		mu: &sync.Mutex{},
		renderer: slog.NewJSONHandler(buf, &slog.HandlerOptions{
			Level:       LevelDebug, // the level is controlled by the handler of New
			ReplaceAttr: MapLogLevelsToName,
		}),
		output: buf,
		client: &lokiClient{},
	}

	if client := connectLoki(ctx, conf); client != nil {
		handler.client.set(client)
		return handler
	}

	go retryLokiConnection(ctx, handler.client, conf)

	return handler
}

func getPromtailConfig(opt *LokiHandlerOptions) promtail.ClientConfig {
	if opt == nil {
		opt = &LokiHandlerOptions{}
	}

	if opt.PushURL == "" {
		opt.PushURL = defaultLokiPushURL
	}

	if len(opt.Labels) == 0 {
		opt.Labels = map[string]string{"service": "uow", "client": "uow-loki"}
	}

	keys := make([]string, 0, len(opt.Labels))
	for k := range opt.Labels {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	labels := make([]string, 0, len(keys))
	for _, k := range keys {
		labels = append(labels, fmt.Sprintf("%s=%q", k, opt.Labels[k]))
	}

	return promtail.ClientConfig{
		PushURL:            opt.PushURL,
		Labels:             "{" + strings.Join(labels, ",") + "}",
		BatchWait:          time.Second,
		BatchEntriesNumber: 1,
		SendLevel:          promtail.DEBUG,
		PrintLevel:         promtail.DISABLE,
	}
}

func retryLokiConnection(ctx context.Context, client *lokiClient, conf promtail.ClientConfig) {
	const retryInterval = 15 * time.Second

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c := connectLoki(ctx, conf); c != nil {
				client.set(c)
				return
			}
		}
	}
}

// connectLoki returns a promtail client, if loki answers on the push url.
func connectLoki(ctx context.Context, conf promtail.ClientConfig) promtail.Client { //nolint:ireturn // promtail only offers the interface
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, conf.PushURL, nil)
	if err != nil {
		return nil
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil
	}

	_ = res.Body.Close()

	client, _ := promtail.NewClientJson(conf) // promtail always returns a nil error

	return client
}

type lokiClient struct {
	mu     sync.RWMutex
	client promtail.Client
}

func (c *lokiClient) set(client promtail.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.client = client
}

func (c *lokiClient) get() promtail.Client { //nolint:ireturn // promtail only offers the interface
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.client
}

// LokiHandler is a slog.Handler writing to loki.
type LokiHandler struct {
	mu     *sync.Mutex // guards output, shared with all derived handlers
	client *lokiClient

	renderer slog.Handler
	output   *bytes.Buffer
}

var _ slog.Handler = (*LokiHandler)(nil)

func (l *LokiHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (l *LokiHandler) Handle(ctx context.Context, record slog.Record) error {
	client := l.client.get()
	if client == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	defer l.output.Reset()

	if err := l.renderer.Handle(ctx, record); err != nil {
		return fmt.Errorf("could not render record for loki: %w", err)
	}

	client.Infof(strings.TrimSpace(l.output.String()))

	return nil
}

func (l *LokiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LokiHandler{
		mu:       l.mu,
		client:   l.client,
		renderer: l.renderer.WithAttrs(attrs),
		output:   l.output,
	}
}

func (l *LokiHandler) WithGroup(name string) slog.Handler {
	return &LokiHandler{
		mu:       l.mu,
		client:   l.client,
		renderer: l.renderer.WithGroup(name),
		output:   l.output,
	}
}
