// Package search keeps the admin review queue of formal applications in
// Elasticsearch.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "companion-workers/internal/common/errors"
	"companion-workers/internal/common/logger"
	"companion-workers/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const (
	DefaultIndex = "review-queue"
	maxPageSize  = 100
)

// Document is the indexed form of an application.
type Document struct {
	InterestID       string                `json:"interestId"`
	YouthID          string                `json:"youthId"`
	ElderlyID        string                `json:"elderlyId"`
	Status           models.InterestStatus `json:"status"`
	MotivationLetter string                `json:"motivationLetter"`
	RejectionReason  string                `json:"rejectionReason,omitempty"`
	AppliedAt        time.Time             `json:"appliedAt"`
	ReviewedAt       *time.Time            `json:"reviewedAt,omitempty"`
	UpdatedAt        time.Time             `json:"updatedAt"`
}

func documentFor(in *models.Interest) Document {
	return Document{
		InterestID:       in.ID,
		YouthID:          in.YouthID,
		ElderlyID:        in.ElderlyID,
		Status:           in.Status,
		MotivationLetter: in.MotivationLetter,
		RejectionReason:  in.RejectionReason,
		AppliedAt:        in.AppliedAt,
		ReviewedAt:       in.ReviewedAt,
		UpdatedAt:        in.UpdatedAt,
	}
}

// Query filters the queue. Empty Statuses means pending_review only.
type Query struct {
	Text      string                  `json:"text,omitempty"`
	Statuses  []models.InterestStatus `json:"statuses,omitempty"`
	YouthID   string                  `json:"youthId,omitempty"`
	ElderlyID string                  `json:"elderlyId,omitempty"`
	From      int                     `json:"from"`
	Size      int                     `json:"size"`
}

type Results struct {
	Total int        `json:"total"`
	Items []Document `json:"items"`
}

type ReviewQueue struct {
	client  *elasticsearch.Client
	index   string
	refresh string
	logger  logger.Logger
}

func NewReviewQueue(client *elasticsearch.Client, index string, log logger.Logger) *ReviewQueue {
	if index == "" {
		index = DefaultIndex
	}
	return &ReviewQueue{client: client, index: index, refresh: "false", logger: logger.ForComponent(log, "review-queue")}
}

// WithRefresh sets the refresh policy of index requests ("true", "wait_for").
func (q *ReviewQueue) WithRefresh(policy string) *ReviewQueue {
	q.refresh = policy
	return q
}

// Index upserts the application document keyed by interest id.
func (q *ReviewQueue) Index(ctx context.Context, in *models.Interest) error {
	body, err := json.Marshal(documentFor(in))
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	req := esapi.IndexRequest{
		Index:      q.index,
		DocumentID: in.ID,
		Body:       bytes.NewReader(body),
		Refresh:    q.refresh,
	}
	res, err := req.Do(ctx, q.client)
	if err != nil {
		return apperrors.NewDependencyFailureError("elasticsearch", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return apperrors.NewDependencyFailureError("elasticsearch", fmt.Errorf("index %s: %s", in.ID, res.String()))
	}
	q.logger.Debug("application indexed", map[string]interface{}{"interestId": in.ID, "status": string(in.Status)})
	return nil
}

func buildQuery(query Query) map[string]interface{} {
	statuses := query.Statuses
	if len(statuses) == 0 {
		statuses = []models.InterestStatus{models.StatusPendingReview}
	}
	terms := make([]string, 0, len(statuses))
	for _, s := range statuses {
		terms = append(terms, string(s))
	}

	filter := []interface{}{
		map[string]interface{}{"terms": map[string]interface{}{"status": terms}},
	}
	if query.YouthID != "" {
		filter = append(filter, map[string]interface{}{"term": map[string]interface{}{"youthId": query.YouthID}})
	}
	if query.ElderlyID != "" {
		filter = append(filter, map[string]interface{}{"term": map[string]interface{}{"elderlyId": query.ElderlyID}})
	}

	boolQuery := map[string]interface{}{"filter": filter}
	if query.Text != "" {
		boolQuery["must"] = []interface{}{
			map[string]interface{}{"match": map[string]interface{}{"motivationLetter": query.Text}},
		}
	}
	return map[string]interface{}{
		"query": map[string]interface{}{"bool": boolQuery},
		// oldest first: the queue is worked in arrival order
		"sort": []interface{}{map[string]interface{}{"appliedAt": map[string]interface{}{"order": "asc"}}},
	}
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source Document `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search returns one page of the queue.
func (q *ReviewQueue) Search(ctx context.Context, query Query) (*Results, error) {
	if query.Size <= 0 {
		query.Size = 20
	}
	if query.Size > maxPageSize {
		query.Size = maxPageSize
	}
	if query.From < 0 {
		query.From = 0
	}

	body, err := json.Marshal(buildQuery(query))
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	req := esapi.SearchRequest{
		Index: []string{q.index},
		Body:  bytes.NewReader(body),
		From:  &query.From,
		Size:  &query.Size,
	}
	res, err := req.Do(ctx, q.client)
	if err != nil {
		return nil, apperrors.NewDependencyFailureError("elasticsearch", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, apperrors.NewDependencyFailureError("elasticsearch", fmt.Errorf("search: %s", res.String()))
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, apperrors.NewDependencyFailureError("elasticsearch", fmt.Errorf("decode search response: %w", err))
	}
	out := &Results{Total: sr.Hits.Total.Value, Items: make([]Document, 0, len(sr.Hits.Hits))}
	for _, h := range sr.Hits.Hits {
		out.Items = append(out.Items, h.Source)
	}
	return out, nil
}
