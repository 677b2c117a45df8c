package cmn

import "fmt"

// Assert panics with a formatted message when cond is false. Used at the
// placement-map invariant checkpoints (I1-I4) where a violation means a
// policy or caller bug, not a recoverable runtime condition.
func Assert(cond bool, args ...interface{}) {
	if cond {
		return
	}
	panic(fmt.Sprint(args...))
}

func Assertf(cond bool, format string, args ...interface{}) {
	if cond {
		return
	}
	panic(fmt.Sprintf(format, args...))
}
