package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/klauspost/compress/zstd"

	"stockflow/internal/core/id"
	"stockflow/internal/domain/audit"
)

// CompressionAlgo specifies how an audit value is stored.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// DefaultCompressThreshold is the value size above which entries are zstd-compressed.
const DefaultCompressThreshold = 4 * 1024

var (
	_ audit.Sink   = (*AuditSink)(nil)
	_ audit.Reader = (*AuditSink)(nil)
)

type auditRow struct {
	ID              id.ID           `db:"id"`
	EntityType      string          `db:"entity_type"`
	EntityID        string          `db:"entity_id"`
	Action          string          `db:"action"`
	UserID          string          `db:"user_id"`
	Value           json.RawMessage `db:"value"`
	ValueCompressed []byte          `db:"value_compressed"`
	CompressionAlgo CompressionAlgo `db:"compression_algo"`
	Details         json.RawMessage `db:"details"`
	CreatedAt       time.Time       `db:"created_at"`
}

// AuditSink appends audit entries to sys_audit. Values larger than the
// threshold are stored zstd-compressed.
type AuditSink struct {
	txManager         *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
}

// NewAuditSink creates an audit sink. A non-positive threshold uses the default.
func NewAuditSink(txManager *TxManager, compressThreshold int) (*AuditSink, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	if compressThreshold <= 0 {
		compressThreshold = DefaultCompressThreshold
	}

	return &AuditSink{
		txManager:         txManager,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: compressThreshold,
	}, nil
}

// Append implements audit.Sink. All entries are written in one round-trip.
func (s *AuditSink) Append(ctx context.Context, entries ...audit.Entry) error {
	queries := make([]batchQuery, 0, len(entries))
	for _, e := range entries {
		row, err := s.toRow(e)
		if err != nil {
			return err
		}
		queries = append(queries, batchQuery{
			SQL: `
				INSERT INTO sys_audit (
					id, entity_type, entity_id, action, user_id,
					value, value_compressed, compression_algo, details, created_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			Args: []any{
				row.ID, row.EntityType, row.EntityID, row.Action, row.UserID,
				nullableJSON(row.Value), row.ValueCompressed, row.CompressionAlgo,
				nullableJSON(row.Details), row.CreatedAt,
			},
		})
	}
	return execBatch(ctx, s.txManager.GetQuerier(ctx), queries)
}

func (s *AuditSink) toRow(e audit.Entry) (auditRow, error) {
	row := auditRow{
		ID:              e.ID,
		EntityType:      e.EntityType,
		EntityID:        e.EntityID,
		Action:          e.Action,
		UserID:          e.UserID,
		CompressionAlgo: CompressionNone,
		CreatedAt:       e.Timestamp,
	}
	if id.IsNil(row.ID) {
		row.ID = id.New()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	if e.Value != nil {
		value, err := json.Marshal(e.Value)
		if err != nil {
			return row, fmt.Errorf("marshal audit value: %w", err)
		}
		if len(value) > s.compressThreshold {
			row.ValueCompressed = s.encoder.EncodeAll(value, nil)
			row.CompressionAlgo = CompressionZstd
		} else {
			row.Value = value
		}
	}

	if len(e.Details) > 0 {
		details, err := json.Marshal(e.Details)
		if err != nil {
			return row, fmt.Errorf("marshal audit details: %w", err)
		}
		row.Details = details
	}
	return row, nil
}

// History implements audit.Reader. Values are returned as json.RawMessage.
func (s *AuditSink) History(ctx context.Context, entityType, entityID string, limit int) ([]audit.Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []auditRow
	err := pgxscan.Select(ctx, s.txManager.GetQuerier(ctx), &rows, `
		SELECT id, entity_type, entity_id, action, user_id,
		       value, value_compressed, compression_algo, details, created_at
		FROM sys_audit
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3`, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit history: %w", err)
	}
	slices.Reverse(rows)

	entries := make([]audit.Entry, 0, len(rows))
	for _, row := range rows {
		e, err := s.fromRow(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *AuditSink) fromRow(row auditRow) (audit.Entry, error) {
	e := audit.Entry{
		ID:         row.ID,
		UserID:     row.UserID,
		Action:     row.Action,
		EntityType: row.EntityType,
		EntityID:   row.EntityID,
		Timestamp:  row.CreatedAt,
	}

	value := row.Value
	if row.CompressionAlgo == CompressionZstd && len(row.ValueCompressed) > 0 {
		decompressed, err := s.decoder.DecodeAll(row.ValueCompressed, nil)
		if err != nil {
			return e, fmt.Errorf("decompress audit value: %w", err)
		}
		value = decompressed
	}
	if len(value) > 0 {
		e.Value = value
	}

	if len(row.Details) > 0 {
		if err := json.Unmarshal(row.Details, &e.Details); err != nil {
			return e, fmt.Errorf("unmarshal audit details: %w", err)
		}
	}
	return e, nil
}

func nullableJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
