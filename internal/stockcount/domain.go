// Package stockcount implements physical inventory counts. A session collects
// counted quantities per product while OPEN; finalizing diffs each count
// against derived on-hand and posts one ADJUST movement per discrepancy, all
// inside a single transaction.
package stockcount

import (
	"time"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
)

// SessionStatus enumerates the count session lifecycle.
type SessionStatus string

const (
	// StatusOpen accepts count updates.
	StatusOpen SessionStatus = "OPEN"
	// StatusFinalized is terminal; the session and its lines are frozen.
	StatusFinalized SessionStatus = "FINALIZED"
)

// Session is one stock count.
type Session struct {
	ID          int64         `json:"id"`
	StoreID     int64         `json:"store_id"`
	Status      SessionStatus `json:"status"`
	Note        *string       `json:"note,omitempty"`
	Reference   *string       `json:"reference,omitempty"`
	CreatedBy   int64         `json:"created_by"`
	CreatedAt   time.Time     `json:"created_at"`
	FinalizedAt *time.Time    `json:"finalized_at,omitempty"`
	Lines       []Line        `json:"lines,omitempty"`
}

// Line is one counted product within a session. OnHand and Diff are derived
// at read time for OPEN sessions; after finalize they reflect the moment the
// adjustments were posted only through the movement ledger.
type Line struct {
	ID          int64     `json:"id"`
	SessionID   int64     `json:"session_id"`
	ProductID   int64     `json:"product_id"`
	ProductName string    `json:"product_name"`
	CountedQty  int64     `json:"counted_qty"`
	OnHand      int64     `json:"on_hand"`
	Diff        int64     `json:"diff"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FinalizeResult summarizes a finalize run.
type FinalizeResult struct {
	Session         Session `json:"session"`
	AdjustmentCount int     `json:"adjustment_count"`
}

var (
	// ErrSessionNotFound indicates the session does not exist in the caller's store.
	ErrSessionNotFound = httpx.Err(httpx.ErrNotFound, "stock count session not found")
	// ErrProductNotFound indicates the counted product is outside the caller's store.
	ErrProductNotFound = httpx.Err(httpx.ErrNotFound, "product not found")
	// ErrSessionFinalized indicates a write against a finalized session.
	ErrSessionFinalized = httpx.Err(httpx.ErrConflict, "stock count session already finalized")
	// ErrNoCountedItems indicates a finalize on a session with no lines.
	ErrNoCountedItems = httpx.Err(httpx.ErrValidation, "stock count session has no counted items")
	// ErrInvalidCount indicates a negative counted quantity.
	ErrInvalidCount = httpx.Err(httpx.ErrValidation, "counted quantity must be zero or a positive integer")
)
