package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"votechain/storage"
)

// FailureReason classifies why a chain failed validation.
type FailureReason string

const (
	ReasonCorruptBlock     FailureReason = "corrupt_block"
	ReasonBrokenLink       FailureReason = "broken_link"
	ReasonMissingBlock     FailureReason = "missing_block"
	ReasonInsufficientWork FailureReason = "insufficient_work"
)

const (
	statusValid   = "Blockchain is valid"
	statusInvalid = "Blockchain validation failed"
)

// Report is the outcome of a full chain validation. FailedAt and Reason are
// set only when Valid is false.
type Report struct {
	Valid    bool          `json:"valid"`
	Length   int64         `json:"length"`
	FailedAt int64         `json:"failedAt,omitempty"`
	Reason   FailureReason `json:"reason,omitempty"`
	Hash     string        `json:"hash,omitempty"`
	Strict   bool          `json:"strict,omitempty"`
}

// Message is the human-readable chain status line.
func (r Report) Message() string {
	if r.Valid {
		return statusValid
	}
	return statusInvalid
}

// IsChainValid reports whether every stored block recomputes to its hash and
// links to its predecessor.
func (l *Ledger) IsChainValid(ctx context.Context) (bool, error) {
	report, err := l.Verify(ctx)
	if err != nil {
		return false, err
	}
	return report.Valid, nil
}

// Verify walks positions 1..length and returns the first failure found.
// Storage errors other than a missing position are returned as errors.
func (l *Ledger) Verify(ctx context.Context) (Report, error) {
	start := time.Now()
	ctx, span := l.tracer.Start(ctx, "ledger.verify")
	defer span.End()

	report, err := l.verify(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Report{}, err
	}
	span.SetAttributes(
		attribute.Bool("ledger.valid", report.Valid),
		attribute.Int64("ledger.length", report.Length),
	)
	l.metrics.ObserveValidation(string(report.Reason), time.Since(start))
	if !report.Valid {
		l.logger.Warn("chain validation failed",
			"position", report.FailedAt,
			"reason", string(report.Reason))
	}
	return report, nil
}

func (l *Ledger) verify(ctx context.Context) (Report, error) {
	length, err := l.Length(ctx)
	if err != nil {
		return Report{}, err
	}
	report := Report{Valid: true, Length: length, Strict: l.strict}
	if length == 0 || (length == 1 && !l.strict) {
		return report, nil
	}

	fail := func(position int64, reason FailureReason, hash string) Report {
		report.Valid = false
		report.FailedAt = position
		report.Reason = reason
		report.Hash = hash
		return report
	}

	previous, reason, err := l.loadForVerify(ctx, 1)
	if err != nil {
		return Report{}, err
	}
	if reason != "" {
		return fail(1, reason, ""), nil
	}
	if l.strict && !MeetsDifficulty(previous.Hash, l.difficulty) {
		return fail(1, ReasonInsufficientWork, previous.Hash), nil
	}

	for position := int64(2); position <= length; position++ {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		current, reason, err := l.loadForVerify(ctx, position)
		if err != nil {
			return Report{}, err
		}
		if reason != "" {
			return fail(position, reason, ""), nil
		}
		if !current.Intact() {
			return fail(position, ReasonCorruptBlock, current.Hash), nil
		}
		if current.PreviousHash != previous.Hash {
			return fail(position, ReasonBrokenLink, current.Hash), nil
		}
		if l.strict && !MeetsDifficulty(current.Hash, l.difficulty) {
			return fail(position, ReasonInsufficientWork, current.Hash), nil
		}
		previous = current
	}
	return report, nil
}

// loadForVerify maps an absent position to missing_block and an undecodable
// payload to corrupt_block; anything else is a storage error.
func (l *Ledger) loadForVerify(ctx context.Context, position int64) (*Block, FailureReason, error) {
	rec, err := l.store.Record(ctx, position)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ReasonMissingBlock, nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("load block %d: %w", position, err)
	}
	block, err := blockFromRecord(rec)
	if err != nil {
		return nil, ReasonCorruptBlock, nil
	}
	return block, "", nil
}
