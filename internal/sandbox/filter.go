package sandbox

import "go.uber.org/zap"

// Filter is the blacklist guarding the sandbox boundary. Membership is by
// identity only; payloads are never compared. Not safe for concurrent
// writers: mutate only from the loop goroutine.
type Filter struct {
	blocked map[ObjectID]struct{}
	log     *zap.Logger
}

func NewFilter(log *zap.Logger) *Filter {
	return &Filter{
		blocked: make(map[ObjectID]struct{}, 64),
		log:     log,
	}
}

// Blacklist forbids h from crossing the boundary. Idempotent.
func (f *Filter) Blacklist(h Handle) {
	if h.IsNil() {
		return
	}
	f.blocked[h.id] = struct{}{}
}

// BlacklistAll forbids every handle in hs.
func (f *Filter) BlacklistAll(hs []Handle) {
	for _, h := range hs {
		f.Blacklist(h)
	}
}

func (f *Filter) IsBlacklisted(h Handle) bool {
	if h.IsNil() {
		return false
	}
	_, ok := f.blocked[h.id]
	return ok
}

// Filter replaces *h with Nil when it is blacklisted. Reports whether the
// handle was neutralized. Violations are not errors; they only log at debug.
func (f *Filter) Filter(h *Handle) bool {
	if h == nil || !f.IsBlacklisted(*h) {
		return false
	}
	f.log.Debug("blacklisted object filtered", zap.Uint64("object", uint64(h.id)))
	*h = Nil
	return true
}

// FilterAll filters a collection in place and returns how many entries were
// neutralized.
func (f *Filter) FilterAll(hs []Handle) int {
	n := 0
	for i := range hs {
		if f.Filter(&hs[i]) {
			n++
		}
	}
	return n
}

// Clear empties the blacklist.
func (f *Filter) Clear() {
	clear(f.blocked)
}

func (f *Filter) Len() int { return len(f.blocked) }
