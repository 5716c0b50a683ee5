package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/weiawesome/roomchat/internal/config"
	"github.com/weiawesome/roomchat/internal/domain"
)

const indexMapping = `{
  "mappings": {
    "properties": {
      "message_id": {"type": "keyword"},
      "room":       {"type": "keyword"},
      "sender":     {"type": "keyword"},
      "message":    {"type": "text"},
      "timestamp":  {"type": "date", "format": "epoch_millis"}
    }
  }
}`

// ElasticIndex keeps messages in one Elasticsearch index, one document per
// message keyed by message id.
type ElasticIndex struct {
	client *elasticsearch.Client
	index  string
}

// NewElasticIndex connects and creates the index when it is missing.
func NewElasticIndex(ctx context.Context, cfg config.SearchConfig) (*ElasticIndex, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	index := cfg.Index
	if index == "" {
		index = "chat-messages"
	}
	x := &ElasticIndex{client: client, index: index}
	if err := x.ensureIndex(ctx); err != nil {
		return nil, err
	}
	return x, nil
}

func (x *ElasticIndex) ensureIndex(ctx context.Context) error {
	res, err := x.client.Indices.Exists([]string{x.index}, x.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to reach elasticsearch: %w", err)
	}
	drain(res)
	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("elasticsearch error: %s", res.Status())
	}

	res, err = x.client.Indices.Create(x.index,
		x.client.Indices.Create.WithContext(ctx),
		x.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
	)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", x.index, err)
	}
	defer drain(res)
	if res.IsError() && !strings.Contains(res.String(), "resource_already_exists_exception") {
		return fmt.Errorf("failed to create index %s: %s", x.index, res.String())
	}
	return nil
}

type document struct {
	ID        string `json:"message_id"`
	Room      string `json:"room"`
	Sender    string `json:"sender"`
	Body      string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

func (x *ElasticIndex) Put(ctx context.Context, msg domain.Message) error {
	data, err := json.Marshal(document{
		ID:        msg.ID,
		Room:      msg.Room,
		Sender:    msg.Sender,
		Body:      msg.Body,
		Timestamp: msg.Timestamp.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	opts := []func(*esapi.IndexRequest){x.client.Index.WithContext(ctx)}
	if msg.ID != "" {
		opts = append(opts, x.client.Index.WithDocumentID(msg.ID))
	}
	res, err := x.client.Index(x.index, bytes.NewReader(data), opts...)
	return check(res, err, "index message")
}

func (x *ElasticIndex) DeleteRoom(ctx context.Context, room string) error {
	body, err := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{"term": map[string]interface{}{"room": room}},
	})
	if err != nil {
		return err
	}
	res, err := x.client.DeleteByQuery([]string{x.index}, bytes.NewReader(body),
		x.client.DeleteByQuery.WithContext(ctx),
		x.client.DeleteByQuery.WithConflicts("proceed"),
	)
	return check(res, err, "delete room")
}

func (x *ElasticIndex) Search(ctx context.Context, q Query) (*Result, error) {
	boolQuery := map[string]interface{}{
		"must": []interface{}{
			map[string]interface{}{"match": map[string]interface{}{"message": q.Text}},
		},
	}
	if q.Room != "" {
		boolQuery["filter"] = []interface{}{
			map[string]interface{}{"term": map[string]interface{}{"room": q.Room}},
		}
	}
	body, err := json.Marshal(map[string]interface{}{
		"from":  q.Offset,
		"size":  q.Limit,
		"sort":  []interface{}{map[string]interface{}{"timestamp": "desc"}},
		"query": map[string]interface{}{"bool": boolQuery},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	res, err := x.client.Search(
		x.client.Search.WithContext(ctx),
		x.client.Search.WithIndex(x.index),
		x.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer drain(res)
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch error: %s", res.String())
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	result := &Result{Hits: make([]Hit, 0, len(parsed.Hits.Hits)), Total: parsed.Hits.Total.Value}
	for _, h := range parsed.Hits.Hits {
		var doc document
		if err := json.Unmarshal(h.Source, &doc); err != nil {
			continue
		}
		result.Hits = append(result.Hits, Hit(doc))
	}
	return result, nil
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func check(res *esapi.Response, err error, op string) error {
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	defer drain(res)
	if res.IsError() {
		return fmt.Errorf("failed to %s: %s", op, res.String())
	}
	return nil
}

// drain lets the transport reuse the connection.
func drain(res *esapi.Response) {
	if res == nil || res.Body == nil {
		return
	}
	io.Copy(io.Discard, res.Body)
	res.Body.Close()
}
