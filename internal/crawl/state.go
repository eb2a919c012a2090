package crawl

import "errors"

// Sentinel errors surfaced by the crawl loop.
var (
	// ErrSetup wraps failures to reach the listing root or first page.
	ErrSetup = errors.New("crawl setup failed")
	// ErrCardOutOfRange means the live card list shrank below the index.
	ErrCardOutOfRange = errors.New("card index out of range")
	// ErrInvalidLink means a card has no usable detail link.
	ErrInvalidLink = errors.New("card link is missing or unusable")
	// ErrDetailNotLoaded means the detail URL never appeared in time.
	ErrDetailNotLoaded = errors.New("detail page did not load")
)

// State is the crawl loop position.
type State int

// Crawl states. Done and Faulted are terminal.
const (
	StateIdle State = iota
	StateBootstrapping
	StateListingPage
	StateProcessingCard
	StateAdvancing
	StateDone
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBootstrapping:
		return "bootstrapping"
	case StateListingPage:
		return "listing_page"
	case StateProcessingCard:
		return "processing_card"
	case StateAdvancing:
		return "advancing"
	case StateDone:
		return "done"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFaulted
}

// StopReason explains why a run ended.
type StopReason string

// Stop reasons.
const (
	StopEndOfData  StopReason = "end_of_data"
	StopNoNextPage StopReason = "no_next_page"
	StopMaxPages   StopReason = "max_pages"
	StopSetup      StopReason = "setup_failed"
	StopCanceled   StopReason = "canceled"
)
