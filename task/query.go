package task

import "strings"

// DefaultListLimit caps List results when the caller does not specify one.
const DefaultListLimit = 100

// QueryService answers filtered listings and aggregate statistics over
// tasks. It is read-only; all mutation goes through the Manager.
type QueryService struct {
	store Store
}

// NewQueryService creates a QueryService over the given store.
func NewQueryService(store Store) *QueryService {
	return &QueryService{store: store}
}

// List returns tasks matching the filter, most urgent first and newest
// first within a priority tier. The default limit is applied here so every
// caller gets the same contract regardless of store implementation.
func (q *QueryService) List(f Filter) ([]*Task, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	return q.store.List(f)
}

// Stats returns aggregate counts per status bucket.
func (q *QueryService) Stats() (*Stats, error) {
	return q.store.Stats()
}

// ParseStatuses parses a comma-separated status list, rejecting unknown
// values. An empty input yields no filter.
func ParseStatuses(s string) ([]Status, error) {
	if s == "" {
		return nil, nil
	}
	var out []Status
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		st := Status(part)
		switch st {
		case StatusPending, StatusClaimed, StatusInProgress, StatusDone, StatusFailed, StatusCancelled:
			out = append(out, st)
		default:
			return nil, invalidEnum("status", part, []string{
				string(StatusPending), string(StatusClaimed), string(StatusInProgress),
				string(StatusDone), string(StatusFailed), string(StatusCancelled),
			})
		}
	}
	return out, nil
}
