package pipeline

import "fmt"

// UnclassifiableError reports a record set whose source hint matched no
// registered entity tag. The set is rejected as a whole.
type UnclassifiableError struct {
	Hint string
}

func (e *UnclassifiableError) Error() string {
	return fmt.Sprintf("no entity type matches source %q", e.Hint)
}
