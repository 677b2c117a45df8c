package orchestrator

import "sync"

// firstErrorWins fans fns out onto goroutines, waits for all of them, and
// returns the first non-nil error observed (in result order, not
// completion order, so it is deterministic). Used by the shuffle driver:
// a sibling's failure is reported but never blocks the others from
// completing (spec §4.4.2).
func firstErrorWins(fns []func() error) error {
	results := make([]error, len(fns))
	var wg sync.WaitGroup
	wg.Add(len(fns))
	for i, fn := range fns {
		go func(i int, fn func() error) {
			defer wg.Done()
			results[i] = fn()
		}(i, fn)
	}
	wg.Wait()
	for _, err := range results {
		if err != nil {
			return err
		}
	}
	return nil
}

// allSuccessRequired fans fns out and reports, per index, whether that
// call succeeded. Unlike firstErrorWins it never short-circuits the
// caller's interpretation of individual failures: it is used by the
// peer-uuid fan-out (spec §4.4.3), where a failing peer is recorded in an
// ignore list rather than aborting the whole notification round.
func allSuccessRequired(fns []func() error) []error {
	results := make([]error, len(fns))
	var wg sync.WaitGroup
	wg.Add(len(fns))
	for i, fn := range fns {
		go func(i int, fn func() error) {
			defer wg.Done()
			results[i] = fn()
		}(i, fn)
	}
	wg.Wait()
	return results
}
