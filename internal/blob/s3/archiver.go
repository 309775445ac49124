package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

const (
	archivePage = 500
	jsonlType   = "application/x-ndjson"
)

// Archiver exports resolved markets and the audit log as JSONL objects.
// Records are copied, never deleted from the primary store.
type Archiver struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	markets domain.MarketStore
	audit   domain.AuditStore
	logger  *slog.Logger
	now     func() time.Time
}

// NewArchiver creates an Archiver. reader may be nil; when set, windows that
// were already uploaded are skipped.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	markets domain.MarketStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer:  writer,
		reader:  reader,
		markets: markets,
		audit:   audit,
		logger:  logger.With(slog.String("component", "archiver")),
		now:     time.Now,
	}
}

var _ domain.Archiver = (*Archiver)(nil)

// SetClock overrides time.Now.
func (a *Archiver) SetClock(now func() time.Time) { a.now = now }

// ArchiveResolvedMarkets uploads markets resolved in [since, now).
func (a *Archiver) ArchiveResolvedMarkets(ctx context.Context, since time.Time) (int64, error) {
	return a.archiveMarkets(ctx, since, a.now().UTC())
}

// ArchiveAudit uploads audit entries written in [since, now).
func (a *Archiver) ArchiveAudit(ctx context.Context, since time.Time) (int64, error) {
	return a.archiveAudit(ctx, since, a.now().UTC())
}

// Run archives consecutive windows every interval until ctx is cancelled.
// The first window starts at start. A failed window is retried on the next
// tick together with the time that has passed since.
func (a *Archiver) Run(ctx context.Context, start time.Time, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	marketCursor, auditCursor := start, start
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		until := a.now().UTC()
		if n, err := a.archiveMarkets(ctx, marketCursor, until); err != nil {
			a.logger.ErrorContext(ctx, "archive markets failed", slog.String("error", err.Error()))
		} else {
			marketCursor = until
			a.logger.InfoContext(ctx, "archived markets", slog.Int64("count", n))
		}
		if n, err := a.archiveAudit(ctx, auditCursor, until); err != nil {
			a.logger.ErrorContext(ctx, "archive audit failed", slog.String("error", err.Error()))
		} else {
			auditCursor = until
			a.logger.InfoContext(ctx, "archived audit entries", slog.Int64("count", n))
		}
	}
}

// marketRecord is the archived form of a market. Amounts are base-unit
// decimal strings.
type marketRecord struct {
	ID                string    `json:"id"`
	Creator           string    `json:"creator"`
	Outcome1          string    `json:"outcome1"`
	Outcome2          string    `json:"outcome2"`
	Description       string    `json:"description"`
	Outcome1Token     string    `json:"outcome1_token"`
	Outcome2Token     string    `json:"outcome2_token"`
	Reward            string    `json:"reward"`
	RequiredBond      string    `json:"required_bond"`
	FeeTier           uint32    `json:"fee_tier"`
	AssertedOutcomeID string    `json:"asserted_outcome_id"`
	Collateral        string    `json:"collateral"`
	CreatedAt         time.Time `json:"created_at"`
	ResolvedAt        time.Time `json:"resolved_at"`
}

func toRecord(m domain.Market) marketRecord {
	r := marketRecord{
		ID:                m.ID.Hex(),
		Creator:           m.Creator.Hex(),
		Outcome1:          m.Outcome1,
		Outcome2:          m.Outcome2,
		Description:       m.Description,
		Outcome1Token:     m.Outcome1Token.Hex(),
		Outcome2Token:     m.Outcome2Token.Hex(),
		Reward:            m.Reward.String(),
		RequiredBond:      m.RequiredBond.String(),
		FeeTier:           m.FeeTier,
		AssertedOutcomeID: m.AssertedOutcomeID.Hex(),
		Collateral:        m.Collateral.String(),
		CreatedAt:         m.CreatedAt,
	}
	if m.ResolvedAt != nil {
		r.ResolvedAt = *m.ResolvedAt
	}
	return r
}

func (a *Archiver) archiveMarkets(ctx context.Context, since, until time.Time) (int64, error) {
	var records []marketRecord
	for offset := 0; ; offset += archivePage {
		page, err := a.markets.ListResolved(ctx, domain.ListOpts{
			Since: &since, Until: &until, Limit: archivePage, Offset: offset,
		})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive markets query: %w", err)
		}
		for _, m := range page {
			records = append(records, toRecord(m))
		}
		if len(page) < archivePage {
			break
		}
	}
	return upload(ctx, a, "markets", since, until, records)
}

func (a *Archiver) archiveAudit(ctx context.Context, since, until time.Time) (int64, error) {
	var entries []domain.AuditEntry
	for offset := 0; ; offset += archivePage {
		page, err := a.audit.List(ctx, domain.ListOpts{
			Since: &since, Until: &until, Limit: archivePage, Offset: offset,
		})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
		}
		entries = append(entries, page...)
		if len(page) < archivePage {
			break
		}
	}
	return upload(ctx, a, "audit", since, until, entries)
}

// upload writes records to the window's object and audits the export.
func upload[T any](ctx context.Context, a *Archiver, kind string, since, until time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	path := ArchivePath(kind, since, until)
	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return 0, err
		}
		if exists {
			return 0, nil
		}
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlType); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":  path,
		"count": count,
		"since": since.Format(time.RFC3339),
		"until": until.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return count, nil
}

// ArchivePath is the object path for a window, partitioned by the day the
// window closes:
//
//	archive/markets/2025-10-19/1760832000-1760835600.jsonl
func ArchivePath(kind string, since, until time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%d-%d.jsonl", kind, until.UTC().Format("2006-01-02"), since.Unix(), until.Unix())
}

// marshalJSONL encodes one compact JSON value per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
