// Package leadindex writes analysed businesses into an Elasticsearch index.
package leadindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"bizcheck/internal/analyzer"
	"bizcheck/internal/events"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
)

const mapping = `{
	"mappings": {
		"properties": {
			"place_id":       {"type": "keyword"},
			"name":           {"type": "text"},
			"address":        {"type": "text"},
			"types":          {"type": "keyword"},
			"rating":         {"type": "float"},
			"total_ratings":  {"type": "integer"},
			"has_website":    {"type": "boolean"},
			"website_status": {"type": "keyword"},
			"lead_score":     {"type": "integer"},
			"query":          {"type": "keyword"},
			"location":       {"type": "keyword"},
			"search_id":      {"type": "keyword"},
			"indexed_at":     {"type": "date"}
		}
	}
}`

// Lead is the document stored per business.
type Lead struct {
	PlaceID       string    `json:"place_id"`
	Name          string    `json:"name"`
	Address       *string   `json:"address,omitempty"`
	Phone         *string   `json:"phone,omitempty"`
	Website       *string   `json:"website,omitempty"`
	Types         []string  `json:"types,omitempty"`
	Rating        *float64  `json:"rating,omitempty"`
	TotalRatings  *int      `json:"total_ratings,omitempty"`
	HasWebsite    bool      `json:"has_website"`
	WebsiteStatus string    `json:"website_status"`
	LeadScore     int       `json:"lead_score"`
	Query         string    `json:"query"`
	Location      string    `json:"location"`
	SearchID      string    `json:"search_id"`
	IndexedAt     time.Time `json:"indexed_at"`
}

// Result counts the outcome of one bulk run.
type Result struct {
	Indexed uint64
	Failed  uint64
}

type Indexer struct {
	es    *elasticsearch.Client
	index string
}

// New returns nil when url is empty.
func New(url, index string, transport http.RoundTripper) (*Indexer, error) {
	if url == "" {
		return nil, nil
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{url},
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client: %w", err)
	}
	return &Indexer{es: es, index: index}, nil
}

// EnsureIndex creates the index with its mapping when missing.
func (ix *Indexer) EnsureIndex(ctx context.Context) error {
	exists, err := ix.es.Indices.Exists([]string{ix.index}, ix.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("index exists: %w", err)
	}
	exists.Body.Close()
	if exists.StatusCode == http.StatusOK {
		return nil
	}
	res, err := ix.es.Indices.Create(ix.index,
		ix.es.Indices.Create.WithBody(strings.NewReader(mapping)),
		ix.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("create index: %s", res.Status())
	}
	log.Printf("lead index created index=%s", ix.index)
	return nil
}

// IndexSearch bulk-indexes every business of a completed search keyed by place id.
func (ix *Indexer) IndexSearch(ctx context.Context, ev events.SearchCompleted) (Result, error) {
	var res Result
	if len(ev.Businesses) == 0 {
		return res, nil
	}
	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Index:         ix.index,
		Client:        ix.es,
		NumWorkers:    1,
		FlushInterval: 5 * time.Second,
	})
	if err != nil {
		return res, fmt.Errorf("bulk indexer: %w", err)
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	for _, b := range ev.Businesses {
		data, err := json.Marshal(leadFrom(b, ev, at))
		if err != nil {
			return res, fmt.Errorf("encode lead %s: %w", b.PlaceID, err)
		}
		err = bi.Add(ctx, esutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: b.PlaceID,
			Body:       bytes.NewReader(data),
			OnSuccess: func(ctx context.Context, item esutil.BulkIndexerItem, r esutil.BulkIndexerResponseItem) {
				atomic.AddUint64(&res.Indexed, 1)
			},
			OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, r esutil.BulkIndexerResponseItem, err error) {
				atomic.AddUint64(&res.Failed, 1)
				if err != nil {
					log.Printf("lead index failed place_id=%s err=%v", item.DocumentID, err)
				} else {
					log.Printf("lead index failed place_id=%s type=%s reason=%s", item.DocumentID, r.Error.Type, r.Error.Reason)
				}
			},
		})
		if err != nil {
			return res, fmt.Errorf("bulk add: %w", err)
		}
	}
	if err := bi.Close(ctx); err != nil {
		return res, fmt.Errorf("bulk close: %w", err)
	}
	return Result{Indexed: atomic.LoadUint64(&res.Indexed), Failed: atomic.LoadUint64(&res.Failed)}, nil
}

// Run indexes SearchCompleted events until ctx is done or events closes.
func (ix *Indexer) Run(ctx context.Context, ch <-chan any) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			done, ok := ev.(events.SearchCompleted)
			if !ok || done.Err != nil {
				continue
			}
			res, err := ix.IndexSearch(ctx, done)
			if err != nil {
				log.Printf("lead index search_id=%s err=%v", done.SearchID, err)
				continue
			}
			log.Printf("lead index search_id=%s indexed=%d failed=%d", done.SearchID, res.Indexed, res.Failed)
		}
	}
}

func leadFrom(b analyzer.EnrichedBusiness, ev events.SearchCompleted, at time.Time) Lead {
	return Lead{
		PlaceID:       b.PlaceID,
		Name:          b.Name,
		Address:       b.Address,
		Phone:         b.Phone,
		Website:       b.Website,
		Types:         b.Categories,
		Rating:        b.Rating,
		TotalRatings:  b.TotalRatings,
		HasWebsite:    b.HasWebsite(),
		WebsiteStatus: string(b.WebsiteStatus.Status),
		LeadScore:     b.LeadScore,
		Query:         ev.Query,
		Location:      ev.Location,
		SearchID:      ev.SearchID,
		IndexedAt:     at,
	}
}
