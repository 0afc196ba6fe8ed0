// Package stream provides AWS Lambda handlers for background maintenance:
// relation row cleanup driven by DynamoDB Streams, and scheduled token
// pruning.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/ganhammar/openiddict-dynamodb/store"
)

// DefaultRetention is how far back the scheduled prune reaches when no
// retention is configured.
const DefaultRetention = 14 * 24 * time.Hour

// Handler processes stream and schedule events against the stores.
type Handler struct {
	apps      *store.ApplicationStore
	scopes    *store.ScopeStore
	tokens    *store.TokenStore
	config    store.Config
	retention time.Duration
	logger    *slog.Logger
}

// NewHandler creates a handler over the given backend client.
func NewHandler(api store.API, config store.Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	config = config.WithDefaults()
	return &Handler{
		apps:      store.NewApplicationStore(api, config),
		scopes:    store.NewScopeStore(api, config),
		tokens:    store.NewTokenStore(api, config),
		config:    config,
		retention: DefaultRetention,
		logger:    logger,
	}
}

// SetRetention overrides the prune retention window.
func (h *Handler) SetRetention(d time.Duration) {
	if d > 0 {
		h.retention = d
	}
}

// HandleCleanup processes DynamoDB stream events from the applications and
// scopes tables, deleting the relation rows a removed entity left behind.
// Entity deletion does not cascade inline, so this handler is what keeps
// the redirect and resource tables from accumulating orphans.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleCleanup(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

// HandlePrune deletes tokens past the retention window. Wire it to a
// scheduled CloudWatch event.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandlePrune(ctx context.Context, event events.CloudWatchEvent) error {
	threshold := time.Now().Add(-h.retention)

	deleted, err := h.tokens.Prune(ctx, threshold)
	if err != nil {
		h.logger.Error("prune failed",
			"threshold", threshold,
			"error", err,
		)
		return err
	}

	h.logger.Info("prune completed",
		"threshold", threshold,
		"deleted", deleted,
	)
	return nil
}

// processRecord processes a single DynamoDB stream record.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if record.EventName != "REMOVE" {
		return nil
	}

	id := getStringAttr(record.Change.Keys, "Id")
	if id == "" {
		return nil
	}

	switch tableFromARN(record.EventSourceArn) {
	case h.config.ApplicationsTable:
		h.logger.Info("cleaning up application redirects", "applicationID", id)
		if err := h.apps.DeleteRedirects(ctx, id); err != nil {
			return fmt.Errorf("delete redirects: %w", err)
		}
	case h.config.ScopesTable:
		h.logger.Info("cleaning up scope resources", "scopeID", id)
		if err := h.scopes.DeleteResources(ctx, id); err != nil {
			return fmt.Errorf("delete resources: %w", err)
		}
	}
	return nil
}

// tableFromARN extracts the table name from a stream ARN of the form
// arn:aws:dynamodb:region:account:table/NAME/stream/TIMESTAMP.
func tableFromARN(arn string) string {
	parts := strings.Split(arn, "/")
	if len(parts) < 2 || !strings.HasSuffix(parts[0], ":table") {
		return ""
	}
	return parts[1]
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeString {
			return v.String()
		}
	}
	return ""
}
