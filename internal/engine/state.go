package engine

import (
	"sort"

	"cortexsoc/internal/model"
)

// DetectionState holds per-user history that outlives a single batch.
// It is not safe for concurrent use; Engine serialises access.
type DetectionState struct {
	seenOrigins  map[string]map[string]struct{}
	failedLogins map[string]int
}

func NewDetectionState() *DetectionState {
	return &DetectionState{
		seenOrigins:  make(map[string]map[string]struct{}),
		failedLogins: make(map[string]int),
	}
}

// markOrigin records origin for user and reports whether it was new.
func (s *DetectionState) markOrigin(user, origin string) bool {
	set, ok := s.seenOrigins[user]
	if !ok {
		set = make(map[string]struct{})
		s.seenOrigins[user] = set
	}
	if _, seen := set[origin]; seen {
		return false
	}
	set[origin] = struct{}{}
	return true
}

// recordFailedLogin bumps the lifetime failure counter and returns the new value.
// The counter is never reset.
func (s *DetectionState) recordFailedLogin(user string) int {
	s.failedLogins[user]++
	return s.failedLogins[user]
}

func (s *DetectionState) snapshot(user string) (model.UserState, bool) {
	set, hasOrigins := s.seenOrigins[user]
	count, hasFailures := s.failedLogins[user]
	if !hasOrigins && !hasFailures {
		return model.UserState{}, false
	}
	origins := make([]string, 0, len(set))
	for o := range set {
		origins = append(origins, o)
	}
	sort.Strings(origins)
	return model.UserState{User: user, SeenOrigins: origins, FailedLogins: count}, true
}

func (s *DetectionState) users() int {
	seen := make(map[string]struct{}, len(s.seenOrigins)+len(s.failedLogins))
	for u := range s.seenOrigins {
		seen[u] = struct{}{}
	}
	for u := range s.failedLogins {
		seen[u] = struct{}{}
	}
	return len(seen)
}
