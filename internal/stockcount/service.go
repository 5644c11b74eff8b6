package stockcount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

const defaultAdjustNote = "Stock count"

// StockInvalidator bumps cached on-hand projections after posted adjustments.
type StockInvalidator interface {
	InvalidateStore(ctx context.Context, storeID int64)
}

// Service coordinates stock count sessions.
type Service struct {
	logger      *slog.Logger
	repo        RepositoryPort
	invalidator StockInvalidator
	audit       *shared.AuditLogger
}

// NewService builds Service. Invalidator and audit may be nil in tests.
func NewService(logger *slog.Logger, repo RepositoryPort, invalidator StockInvalidator, audit *shared.AuditLogger) *Service {
	return &Service{logger: logger, repo: repo, invalidator: invalidator, audit: audit}
}

// CreateSession opens a new count session.
func (s *Service) CreateSession(ctx context.Context, storeID, actorID int64, note, reference *string) (Session, error) {
	session, err := s.repo.CreateSession(ctx, Session{
		StoreID:   storeID,
		CreatedBy: actorID,
		Note:      normalizeText(note),
		Reference: normalizeText(reference),
	})
	if err != nil {
		return Session{}, fmt.Errorf("stockcount: create session: %w", err)
	}
	return session, nil
}

// GetSession loads a session with its lines annotated against current
// on-hand. For a finalized session the diffs read as zero unless stock moved
// after the count was posted.
func (s *Service) GetSession(ctx context.Context, storeID, sessionID int64) (Session, error) {
	session, err := s.repo.GetSession(ctx, storeID, sessionID)
	if err != nil {
		return Session{}, err
	}
	lines, err := s.repo.ListLines(ctx, sessionID)
	if err != nil {
		return Session{}, fmt.Errorf("stockcount: list lines: %w", err)
	}
	if len(lines) > 0 {
		productIDs := make([]int64, 0, len(lines))
		for _, line := range lines {
			productIDs = append(productIDs, line.ProductID)
		}
		onHand, err := s.repo.SumOnHand(ctx, storeID, productIDs)
		if err != nil {
			return Session{}, fmt.Errorf("stockcount: derive on-hand: %w", err)
		}
		for i := range lines {
			lines[i].OnHand = onHand[lines[i].ProductID]
			lines[i].Diff = lines[i].CountedQty - lines[i].OnHand
		}
	}
	session.Lines = lines
	return session, nil
}

// ListSessions returns the store's sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, storeID int64, limit int) ([]Session, error) {
	return s.repo.ListSessions(ctx, storeID, limit)
}

// SetCount records the counted quantity for a product, replacing any earlier
// count in the session. Only OPEN sessions accept counts.
func (s *Service) SetCount(ctx context.Context, storeID, sessionID, productID, countedQty int64) (Line, error) {
	if countedQty < 0 {
		return Line{}, ErrInvalidCount
	}
	session, err := s.repo.GetSession(ctx, storeID, sessionID)
	if err != nil {
		return Line{}, err
	}
	if session.Status != StatusOpen {
		return Line{}, ErrSessionFinalized
	}
	exists, err := s.repo.ProductExists(ctx, storeID, productID)
	if err != nil {
		return Line{}, fmt.Errorf("stockcount: check product: %w", err)
	}
	if !exists {
		return Line{}, ErrProductNotFound
	}
	// The status check above is advisory; UpsertLine re-checks it atomically
	// so a finalize landing in between cannot accept this count.
	line, err := s.repo.UpsertLine(ctx, sessionID, productID, countedQty)
	if err != nil {
		if errors.Is(err, ErrSessionFinalized) {
			return Line{}, ErrSessionFinalized
		}
		return Line{}, fmt.Errorf("stockcount: upsert line: %w", err)
	}
	return line, nil
}

// Finalize reconciles the session: for every counted product whose quantity
// differs from derived on-hand it posts one ADJUST movement, then freezes the
// session. The session lock, the stock reads and every adjustment share one
// transaction.
func (s *Service) Finalize(ctx context.Context, storeID, sessionID, actorID int64) (FinalizeResult, error) {
	var result FinalizeResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		session, err := tx.GetSessionForUpdate(ctx, storeID, sessionID)
		if err != nil {
			return err
		}
		if session.Status != StatusOpen {
			return ErrSessionFinalized
		}
		lines, err := tx.ListLines(ctx, sessionID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return ErrNoCountedItems
		}

		productIDs := make([]int64, 0, len(lines))
		for _, line := range lines {
			productIDs = append(productIDs, line.ProductID)
		}
		if _, err := tx.LockProducts(ctx, storeID, productIDs); err != nil {
			return err
		}
		onHand, err := tx.SumOnHand(ctx, storeID, productIDs)
		if err != nil {
			return err
		}

		note := defaultAdjustNote
		if session.Note != nil && *session.Note != "" {
			note = *session.Note
		}
		adjustments := 0
		for _, line := range lines {
			diff := line.CountedQty - onHand[line.ProductID]
			if diff == 0 {
				continue
			}
			if err := tx.InsertAdjustment(ctx, storeID, line.ProductID, sessionID, diff, note, session.Reference); err != nil {
				return err
			}
			adjustments++
		}

		now := time.Now().UTC()
		if err := tx.MarkFinalized(ctx, sessionID, now); err != nil {
			return err
		}
		session.Status = StatusFinalized
		session.FinalizedAt = &now
		result = FinalizeResult{Session: session, AdjustmentCount: adjustments}
		return nil
	})
	if err != nil {
		return FinalizeResult{}, err
	}

	if s.invalidator != nil {
		s.invalidator.InvalidateStore(ctx, storeID)
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			StoreID:  storeID,
			ActorID:  actorID,
			Action:   "stockcount.finalize",
			Entity:   "stock_count_session",
			EntityID: strconv.FormatInt(sessionID, 10),
			Meta:     map[string]any{"adjustment_count": result.AdjustmentCount},
		}); err != nil {
			s.logger.Warn("record audit log", slog.Any("error", err))
		}
	}
	return result, nil
}

func normalizeText(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
