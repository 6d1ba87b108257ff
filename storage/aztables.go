package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"prism-tracker/domain"
)

// tableEntity is the row layout: PartitionKey holds the kind, RowKey the id
// and Data the JSON document.
type tableEntity struct {
	aztables.Entity
	Data string `json:"Data"`
	ETag string `json:"odata.etag,omitempty"`
}

// Tables stores documents in an Azure table.
type Tables struct {
	client *aztables.Client
}

// NewTables connects to the table named table. The table is expected to
// exist; storage-init provisions it.
func NewTables(_ context.Context, connStr, table string) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Tables{client: svc.NewClient(table)}, nil
}

func (t *Tables) Get(ctx context.Context, kind domain.Kind, id string) (*Document, error) {
	resp, err := t.client.GetEntity(ctx, string(kind), id, nil)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting %s %s: %w", kind, id, err)
	}
	var ent tableEntity
	if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", kind, id, err)
	}
	return &Document{ID: id, ETag: string(resp.ETag), Data: []byte(ent.Data)}, nil
}

func (t *Tables) List(ctx context.Context, kind domain.Kind, filter Filter) ([]Document, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	query := "PartitionKey eq '" + escapeOData(string(kind)) + "'"
	pager := t.client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &query})
	var out []Document
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", kind, err)
		}
		for _, raw := range resp.Entities {
			var ent tableEntity
			if err := sonic.Unmarshal(raw, &ent); err != nil {
				return nil, fmt.Errorf("decode %s: %w", kind, err)
			}
			data := []byte(ent.Data)
			if filter.Match(data) {
				out = append(out, Document{ID: ent.RowKey, ETag: ent.ETag, Data: data})
			}
		}
	}
	return out, nil
}

func (t *Tables) Insert(ctx context.Context, kind domain.Kind, doc Document) (Document, error) {
	payload, err := t.payload(kind, doc)
	if err != nil {
		return Document{}, err
	}
	resp, err := t.client.AddEntity(ctx, payload, nil)
	if err != nil {
		return Document{}, mapTableError(err)
	}
	doc.ETag = string(resp.ETag)
	return doc, nil
}

func (t *Tables) Replace(ctx context.Context, kind domain.Kind, doc Document) (Document, error) {
	payload, err := t.payload(kind, doc)
	if err != nil {
		return Document{}, err
	}
	et := azcore.ETagAny
	if doc.ETag != "" {
		et = azcore.ETag(doc.ETag)
	}
	resp, err := t.client.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeReplace})
	if err != nil {
		return Document{}, mapTableError(err)
	}
	doc.ETag = string(resp.ETag)
	return doc, nil
}

func (t *Tables) Delete(ctx context.Context, kind domain.Kind, id string) (bool, error) {
	if _, err := t.client.DeleteEntity(ctx, string(kind), id, nil); err != nil {
		if statusCode(err) == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("deleting %s %s: %w", kind, id, err)
	}
	return true, nil
}

func (t *Tables) Close() error { return nil }

func (t *Tables) payload(kind domain.Kind, doc Document) ([]byte, error) {
	return sonic.Marshal(struct {
		PartitionKey string `json:"PartitionKey"`
		RowKey       string `json:"RowKey"`
		Data         string `json:"Data"`
	}{string(kind), doc.ID, string(doc.Data)})
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

// mapTableError translates service status codes into domain errors.
func mapTableError(err error) error {
	switch statusCode(err) {
	case http.StatusPreconditionFailed:
		return domain.ErrConcurrencyConflict
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusConflict:
		return domain.ErrAlreadyExists
	}
	return err
}

func escapeOData(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
