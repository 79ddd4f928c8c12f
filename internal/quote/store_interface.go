package quote

import "errors"

var (
	// ErrNotFound is returned when no quote exists for an id or reference.
	ErrNotFound = errors.New("quote not found")

	// ErrNoPending is returned by ClaimNext when the queue is empty. It is
	// a signal to idle, not an error condition worth retrying immediately.
	ErrNoPending = errors.New("no pending quote")

	// ErrNotClaimable is returned when a state transition is requested
	// against a quote whose current status does not allow it.
	ErrNotClaimable = errors.New("quote not in a claimable state")
)

// Store is the persistence surface the dispatcher works against. Both the
// in-memory and the badger-backed implementations satisfy it.
type Store interface {
	Add(q *Quote) error
	Get(id string) (*Quote, error)
	GetByReference(ref string) (*Quote, error)
	Update(q *Quote) error
	List(limit, offset int, status string) ([]*Quote, int)

	// ClaimNext atomically selects the oldest pending quote (by last
	// modification) and flips it to claimed. Test-and-set: under
	// concurrent callers exactly one of them obtains a given quote.
	ClaimNext() (*Quote, error)

	// MarkHandoff records that the bridge wrote the descriptor into the
	// exchange directory. No status transition.
	MarkHandoff(id, filename string) error

	// Complete replaces the quote's line items wholesale (delete then
	// insert, never merge), stores the recomputed total and artifact
	// paths, and sets the terminal completed status. Re-applying the same
	// reply yields the same stored state.
	Complete(id string, lines []Line, total float64, artifacts []string) error

	Fail(id string, reason FailReason) error

	// Requeue puts a failed quote back into its queue, routed by kind the
	// same way a fresh dispatch is. The only backward transition in the
	// lifecycle.
	Requeue(id string) error

	Stats() (pending, claimed, completed, failed int)
}
