package elastic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/clark-center/change-object-author/internal/config"
	"github.com/clark-center/change-object-author/internal/model"
	registrymigrate "github.com/clark-center/change-object-author/internal/registry/migrate"
	registrysearch "github.com/clark-center/change-object-author/internal/registry/search"
	"github.com/clark-center/change-object-author/internal/security"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/elastic/go-elasticsearch/v8/esutil"
)

func init() {
	registrysearch.Register(registrysearch.Plugin{
		Name:   "elasticsearch",
		Loader: load,
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 200, Migrator: &indexMigrator{}})
}

func load(ctx context.Context) (registrysearch.SearchIndex, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.ElasticsearchURL == "" {
		return nil, fmt.Errorf("elastic: elasticsearch url is required")
	}
	return Open(cfg.ElasticsearchURL, cfg.ElasticsearchIndex, nil)
}

type indexMigrator struct{}

func (m *indexMigrator) Name() string { return "elasticsearch-index" }
func (m *indexMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.SearchType != "elasticsearch" {
		return nil
	}
	log.Info("Running migration", "name", m.Name(), "index", cfg.ElasticsearchIndex)
	idx, err := load(ctx)
	if err != nil {
		return err
	}
	return idx.EnsureIndex(ctx)
}

// Index writes learning-object documents to one Elasticsearch index.
type Index struct {
	es    *elasticsearch.Client
	index string
}

// Open creates an Index against the cluster at url. transport may be nil.
func Open(url, index string, transport http.RoundTripper) (*Index, error) {
	if index == "" {
		index = "learning-objects"
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:  []string{strings.TrimRight(url, "/")},
		Transport:  transport,
		MaxRetries: 3,
	})
	if err != nil {
		return nil, fmt.Errorf("elastic: create client: %w", err)
	}
	return &Index{es: es, index: index}, nil
}

func (i *Index) DeleteByObjectID(ctx context.Context, objectID string) (err error) {
	defer func() { security.CountSearchIndexOp("delete", err) }()

	query := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must": []any{
					map[string]any{"match": map[string]any{"id": objectID}},
				},
			},
		},
	}
	res, err := i.es.DeleteByQuery(
		[]string{i.index},
		esutil.NewJSONReader(query),
		i.es.DeleteByQuery.WithContext(ctx),
		i.es.DeleteByQuery.WithConflicts("proceed"),
	)
	if err != nil {
		return fmt.Errorf("elastic: delete %s: %w", objectID, err)
	}
	defer res.Body.Close()
	if err := responseError(res); err != nil {
		return fmt.Errorf("elastic: delete %s: %w", objectID, err)
	}
	return nil
}

func (i *Index) Upsert(ctx context.Context, doc model.SearchDocument) (err error) {
	defer func() { security.CountSearchIndexOp("index", err) }()

	if doc.ID == "" {
		return fmt.Errorf("elastic: document id is required")
	}
	res, err := i.es.Index(
		i.index,
		esutil.NewJSONReader(doc),
		i.es.Index.WithDocumentID(doc.ID),
		i.es.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elastic: index %s: %w", doc.ID, err)
	}
	defer res.Body.Close()
	if err := responseError(res); err != nil {
		return fmt.Errorf("elastic: index %s: %w", doc.ID, err)
	}
	return nil
}

func (i *Index) EnsureIndex(ctx context.Context) error {
	res, err := i.es.Indices.Exists([]string{i.index}, i.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elastic: check index %s: %w", i.index, err)
	}
	res.Body.Close()
	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("elastic: check index %s: unexpected status %d", i.index, res.StatusCode)
	}

	res, err = i.es.Indices.Create(
		i.index,
		i.es.Indices.Create.WithBody(esutil.NewJSONReader(indexMapping)),
		i.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elastic: create index %s: %w", i.index, err)
	}
	defer res.Body.Close()
	if err := responseError(res); err != nil {
		return fmt.Errorf("elastic: create index %s: %w", i.index, err)
	}
	log.Info("Created search index", "index", i.index)
	return nil
}

var profileMapping = map[string]any{
	"properties": map[string]any{
		"name":         map[string]any{"type": "text"},
		"username":     map[string]any{"type": "keyword"},
		"email":        map[string]any{"type": "keyword"},
		"organization": map[string]any{"type": "text"},
	},
}

var indexMapping = map[string]any{
	"mappings": map[string]any{
		"properties": map[string]any{
			"id":           map[string]any{"type": "keyword"},
			"cuid":         map[string]any{"type": "keyword"},
			"name":         map[string]any{"type": "text"},
			"description":  map[string]any{"type": "text"},
			"collection":   map[string]any{"type": "keyword"},
			"status":       map[string]any{"type": "keyword"},
			"length":       map[string]any{"type": "keyword"},
			"levels":       map[string]any{"type": "keyword"},
			"version":      map[string]any{"type": "integer"},
			"date":         map[string]any{"type": "keyword"},
			"author":       profileMapping,
			"contributors": profileMapping,
		},
	},
}

// responseError turns an error response into a Go error carrying the
// Elasticsearch error type and reason when present.
func responseError(res *esapi.Response) error {
	if !res.IsError() {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(res.Body, 64*1024))
	var payload struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error.Type != "" {
		return fmt.Errorf("status %d: %s: %s", res.StatusCode, payload.Error.Type, payload.Error.Reason)
	}
	return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
}
