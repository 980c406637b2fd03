package bytecode

import "sort"

// SortHandlersInnermostFirst enforces the innermost-match policy
// spec.md §9 calls for ("Exception-handler overlap semantics... rely on
// the emission order of endTryCatch; ... Implementations should document
// and enforce innermost-first by sorting handlers at endRoot"). Entries
// are ordered by ascending region width so that a handler nested inside
// another's [startBci, endBci) range is tried first regardless of the
// order endTryCatch/endFinallyTry happened to append them in.
func SortHandlersInnermostFirst(handlers []ExceptionHandlerEntry) {
	sort.SliceStable(handlers, func(i, j int) bool {
		wi := handlers[i].EndBci - handlers[i].StartBci
		wj := handlers[j].EndBci - handlers[j].StartBci
		return wi < wj
	})
}

// FindHandler scans the (already innermost-first sorted) handler table
// for the first entry whose region covers bci, per spec.md §4.8/§7.
// Returns ok=false if no handler covers bci (the caller must unwind out
// of execute).
func FindHandler(handlers []ExceptionHandlerEntry, bci int) (ExceptionHandlerEntry, bool) {
	for _, h := range handlers {
		if bci >= h.StartBci && bci < h.EndBci {
			return h, true
		}
	}
	return ExceptionHandlerEntry{}, false
}
