package fxrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

const maxBodyBytes = 1 << 20

// SourceConfig describes a JSON endpoint and the dotted path to the RUB per
// USD value inside its payload.
type SourceConfig struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
	Path string `mapstructure:"path"`
}

// DefaultSources are tried in this order.
var DefaultSources = []SourceConfig{
	{Name: "cbr-xml-daily", URL: "https://www.cbr-xml-daily.ru/daily_json.js", Path: "Valute.USD.Value"},
	{Name: "open-er-api", URL: "https://open.er-api.com/v6/latest/USD", Path: "rates.RUB"},
	{Name: "exchangerate-host", URL: "https://api.exchangerate.host/latest?base=USD&symbols=RUB", Path: "rates.RUB"},
}

// JSONSource reads a number out of a JSON document.
type JSONSource struct {
	name   string
	url    string
	path   []interface{}
	client *http.Client
}

// NewJSONSource builds a JSONSource. A nil client uses http.DefaultClient;
// deadlines come from the caller's context.
func NewJSONSource(cfg SourceConfig, client *http.Client) (*JSONSource, error) {
	if cfg.URL == "" {
		return nil, errors.New("rate source url is required")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("rate source %q: path is required", cfg.Name)
	}
	if client == nil {
		client = http.DefaultClient
	}
	name := cfg.Name
	if name == "" {
		name = cfg.URL
	}
	segments := strings.Split(cfg.Path, ".")
	path := make([]interface{}, len(segments))
	for i, s := range segments {
		path[i] = s
	}
	return &JSONSource{name: name, url: cfg.URL, path: path, client: client}, nil
}

// NewJSONSources builds sources from configs, in order.
func NewJSONSources(cfgs []SourceConfig, client *http.Client) ([]Source, error) {
	out := make([]Source, 0, len(cfgs))
	for _, cfg := range cfgs {
		src, err := NewJSONSource(cfg, client)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}

// Name identifies the source in logs and metrics.
func (s *JSONSource) Name() string {
	return s.name
}

// Fetch downloads the document and extracts a positive rate.
func (s *JSONSource) Fetch(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, fmt.Errorf("build rate request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("rate request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("rate request: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, fmt.Errorf("read rate body: %w", err)
	}
	node := jsoniter.Get(body, s.path...)
	if err := node.LastError(); err != nil {
		return 0, fmt.Errorf("lookup %v: %w", s.path, err)
	}
	if node.ValueType() != jsoniter.NumberValue {
		return 0, fmt.Errorf("lookup %v: not a number", s.path)
	}
	rate := node.ToFloat64()
	if rate <= 0 {
		return 0, fmt.Errorf("lookup %v: non-positive rate %v", s.path, rate)
	}
	return rate, nil
}
