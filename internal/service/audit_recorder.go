package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sandeepkv93/device-presence-service/internal/clock"
	"github.com/sandeepkv93/device-presence-service/internal/domain"
	"github.com/sandeepkv93/device-presence-service/internal/observability"
	"github.com/sandeepkv93/device-presence-service/internal/repository"
)

type AuditRecord struct {
	Actor      string
	Action     string
	TargetType string
	TargetID   string
	Outcome    domain.AuditOutcome
	Reason     string
	IP         string
}

type AuditRecorder struct {
	repo   repository.AuditRepository
	clock  clock.Clock
	logger *slog.Logger
}

func NewAuditRecorder(repo repository.AuditRepository, clk clock.Clock, logger *slog.Logger) *AuditRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditRecorder{repo: repo, clock: clk, logger: logger}
}

// Record appends one entry and returns its sequence number. A failed append is
// always reported to the caller.
func (r *AuditRecorder) Record(ctx context.Context, rec AuditRecord) (uint64, error) {
	if strings.TrimSpace(rec.Actor) == "" || strings.TrimSpace(rec.Action) == "" {
		return 0, domain.Validation(domain.ReasonInvalidInput, "audit actor and action are required")
	}
	if rec.Outcome == "" {
		rec.Outcome = domain.OutcomeSuccess
	}
	entry := domain.AuditLogEntry{
		Actor:      rec.Actor,
		Action:     rec.Action,
		TargetType: rec.TargetType,
		TargetID:   rec.TargetID,
		Outcome:    rec.Outcome,
		Reason:     rec.Reason,
		IP:         rec.IP,
		RecordedAt: r.clock.Now(),
	}
	if id, ok := domain.ParseClientActor(rec.Actor); ok {
		entry.ActorClientID = &id
	}
	if err := r.repo.Append(ctx, &entry); err != nil {
		observability.RecordAuditAppend(ctx, rec.Action, "error")
		r.logger.ErrorContext(ctx, "audit append failed", "action", rec.Action, "actor", rec.Actor, "error", err)
		return 0, err
	}
	observability.RecordAuditAppend(ctx, rec.Action, "success")
	observability.AuditMirror(ctx, entry.Sequence, entry.Actor, entry.Action, entry.TargetType, entry.TargetID, string(entry.Outcome), entry.Reason)
	return entry.Sequence, nil
}

func (r *AuditRecorder) List(ctx context.Context, f repository.AuditFilter) ([]domain.AuditLogEntry, error) {
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, domain.Validation(domain.ReasonInvalidInput, "to must not be before from")
	}
	return r.repo.List(ctx, f)
}

func (r *AuditRecorder) Count(ctx context.Context) (int64, error) {
	return r.repo.Count(ctx)
}

type ChainReport struct {
	Checked  uint64 `json:"checked"`
	Head     uint64 `json:"head"`
	OK       bool   `json:"ok"`
	BrokenAt uint64 `json:"broken_at,omitempty"`
	Problem  string `json:"problem,omitempty"`
}

// Verify walks the whole chain in sequence order and stops at the first entry
// whose link or hash does not match.
func (r *AuditRecorder) Verify(ctx context.Context, progress func(checked uint64)) (ChainReport, error) {
	head, err := r.repo.Head(ctx)
	if err != nil {
		return ChainReport{}, err
	}
	report := ChainReport{Head: head.LastSequence}
	prevSeq, prevHash := uint64(0), domain.GenesisHash
	for {
		batch, err := r.repo.List(ctx, repository.AuditFilter{AfterSequence: prevSeq, Limit: repository.MaxAuditLimit})
		if err != nil {
			return report, err
		}
		for _, e := range batch {
			switch {
			case e.Sequence != prevSeq+1:
				return broken(report, e.Sequence, fmt.Sprintf("sequence gap after %d", prevSeq)), nil
			case e.PrevHash != prevHash:
				return broken(report, e.Sequence, "previous hash mismatch"), nil
			case e.ComputeHash() != e.Hash:
				return broken(report, e.Sequence, "content hash mismatch"), nil
			}
			prevSeq, prevHash = e.Sequence, e.Hash
			report.Checked++
		}
		if progress != nil {
			progress(report.Checked)
		}
		if len(batch) < repository.MaxAuditLimit {
			break
		}
	}
	if prevSeq != head.LastSequence || prevHash != head.LastHash {
		return broken(report, prevSeq+1, "chain head does not match last entry"), nil
	}
	report.OK = true
	return report, nil
}

func broken(report ChainReport, seq uint64, problem string) ChainReport {
	report.OK = false
	report.BrokenAt = seq
	report.Problem = problem
	return report
}
