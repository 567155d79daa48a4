package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"affordability-pipeline/internal/model"
	"affordability-pipeline/pkg/utils"
)

// ------------------- Ingestion -------------------

// Source is the fetch contract of a raw-data connector.
type Source interface {
	ID() string
	Kind() model.DatasetKind
	Fetch(ctx context.Context) (model.Batch, error)
}

// FileSource reads a CSV or JSON file from local disk.
type FileSource struct {
	Path    string
	Dataset model.DatasetKind
	Format  string // "csv" or "json"; empty means by extension
	Now     func() time.Time
}

func (s *FileSource) ID() string              { return "file:" + s.Path }
func (s *FileSource) Kind() model.DatasetKind { return s.Dataset }

// Fetch reads the whole file. A missing or malformed file is a permanent
// FetchError: re-reading the same bytes cannot succeed.
func (s *FileSource) Fetch(ctx context.Context) (model.Batch, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return model.Batch{}, &model.FetchError{Source: s.ID(), Err: err}
	}
	defer f.Close()

	format := strings.ToLower(s.Format)
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(s.Path)), ".")
	}

	var records []model.Record
	switch format {
	case "csv":
		records, err = readCSV(ctx, f)
	case "json":
		var data []byte
		if data, err = io.ReadAll(f); err == nil {
			records, _, err = decodeEnvelope(data)
		}
	default:
		err = fmt.Errorf("unknown source format %q", format)
	}
	if err != nil {
		return model.Batch{}, &model.FetchError{Source: s.ID(), Err: err}
	}
	return model.NewBatch(s.Dataset, s.ID(), now(s.Now), records), nil
}

// ------------------- CSV -------------------

func readCSV(ctx context.Context, r io.Reader) ([]model.Record, error) {
	csvReader := csv.NewReader(r)
	csvReader.LazyQuotes = true
	csvReader.FieldsPerRecord = -1
	headers, err := csvReader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	for i, h := range headers {
		headers[i] = utils.CleanHeader(h)
	}

	var records []model.Record
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := csvReader.Read()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("CSV read error on line %d: %w", line, err)
		}
		fields := make([]model.Field, 0, len(headers))
		for i, h := range headers {
			if h == "" {
				continue
			}
			v := model.Null()
			if i < len(row) {
				v = utils.ParseValue(row[i])
			}
			fields = append(fields, model.Field{Name: h, Value: v})
		}
		records = append(records, model.NewRecord("", fields...))
	}
}

// ------------------- JSON / API -------------------

// decodeEnvelope accepts a bare list of objects, a single object, or an
// object wrapping the list in "data" or "results". hasMore reports the
// "has_more"/"hasMore" flag when present.
func decodeEnvelope(body []byte) (records []model.Record, hasMore *bool, err error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil, errors.New("empty JSON body")
	}

	var items []json.RawMessage
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, nil, fmt.Errorf("failed to decode JSON: %w", err)
		}
	case '{':
		var env map[string]json.RawMessage
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, nil, fmt.Errorf("failed to decode JSON: %w", err)
		}
		list, ok := env["data"]
		if !ok {
			list, ok = env["results"]
		}
		if !ok {
			items = []json.RawMessage{body}
			break
		}
		if err := json.Unmarshal(list, &items); err != nil {
			return nil, nil, fmt.Errorf("failed to decode JSON list: %w", err)
		}
		for _, key := range []string{"has_more", "hasMore"} {
			if raw, ok := env[key]; ok {
				var b bool
				if json.Unmarshal(raw, &b) == nil {
					hasMore = &b
				}
				break
			}
		}
	default:
		return nil, nil, errors.New("unexpected JSON structure")
	}

	records = make([]model.Record, 0, len(items))
	for i, raw := range items {
		var rec model.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, nil, fmt.Errorf("item %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, hasMore, nil
}

// DefaultPageSize is the page size requested from paginated APIs.
const DefaultPageSize = 100

// maxPages bounds pagination against a server that never stops.
const maxPages = 10000

// APISource pages through a JSON endpoint:
// GET <BaseURL>/<Endpoint>?page=N&limit=PageSize with a bearer token.
// Network failures, 429 and 5xx responses are transient; other non-2xx
// responses are permanent.
type APISource struct {
	BaseURL   string
	Endpoint  string
	APIKey    string
	PageSize  int
	Dataset   model.DatasetKind
	Client    *http.Client
	UserAgent string
	Now       func() time.Time
}

func (s *APISource) ID() string              { return "api:" + s.endpointURL() }
func (s *APISource) Kind() model.DatasetKind { return s.Dataset }

func (s *APISource) endpointURL() string {
	return strings.TrimRight(s.BaseURL, "/") + "/" + strings.TrimLeft(s.Endpoint, "/")
}

func (s *APISource) Fetch(ctx context.Context) (model.Batch, error) {
	pageSize := s.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	var all []model.Record
	for page := 1; page <= maxPages; page++ {
		records, hasMore, err := s.fetchPage(ctx, page, pageSize)
		if err != nil {
			return model.Batch{}, &model.FetchError{Source: s.ID(), Err: err}
		}
		all = append(all, records...)
		more := len(records) == pageSize
		if hasMore != nil {
			more = *hasMore
		}
		if !more || len(records) == 0 {
			break
		}
	}
	return model.NewBatch(s.Dataset, s.ID(), now(s.Now), all), nil
}

func (s *APISource) fetchPage(ctx context.Context, page, limit int) ([]model.Record, *bool, error) {
	u, err := url.Parse(s.endpointURL())
	if err != nil {
		return nil, nil, fmt.Errorf("invalid API URL: %w", err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json")
	ua := s.UserAgent
	if ua == "" {
		ua = "affordability-pipeline/1.0"
	}
	req.Header.Set("User-Agent", ua)
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}

	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, &model.TransientIOError{Op: "GET " + u.Path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &model.TransientIOError{Op: "read " + u.Path, Err: err}
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, nil, &model.TransientIOError{Op: "GET " + u.Path, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, nil, fmt.Errorf("GET %s: status %d", u.Path, resp.StatusCode)
	}
	return decodeEnvelope(body)
}

// StaticSource serves a fixed batch. Used for single-shot runs over
// records already in memory.
type StaticSource struct {
	Name  string
	Batch model.Batch
}

func (s *StaticSource) ID() string              { return "static:" + s.Name }
func (s *StaticSource) Kind() model.DatasetKind { return s.Batch.Kind }

func (s *StaticSource) Fetch(context.Context) (model.Batch, error) {
	return model.NewBatch(s.Batch.Kind, s.ID(), s.Batch.IngestedAt, s.Batch.Records), nil
}

func now(fn func() time.Time) time.Time {
	if fn != nil {
		return fn()
	}
	return time.Now().UTC()
}
