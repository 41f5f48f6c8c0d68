package persist

import "github.com/siltdb/silt/internal/meta"

// DirtyCheckResult is the tagged answer of an Interceptor's FindDirty:
// either the interceptor took over the dirty check and Dirty holds the
// result, or it declined and the pipeline falls back to positional
// type comparison.
type DirtyCheckResult struct {
	handled bool
	dirty   []int
}

// Handled wraps an interceptor-computed dirty set. dirty may be empty,
// which is a definitive "nothing to write".
func Handled(dirty []int) DirtyCheckResult {
	return DirtyCheckResult{handled: true, dirty: dirty}
}

// NotHandled is the declining result.
func NotHandled() DirtyCheckResult {
	return DirtyCheckResult{}
}

// Handled reports whether the interceptor answered.
func (r DirtyCheckResult) Handled() bool { return r.handled }

// Dirty returns the interceptor's dirty set. Only meaningful when
// Handled.
func (r DirtyCheckResult) Dirty() []int { return r.dirty }

// Interceptor hooks application code into the dirty check. The hook
// runs before positional comparison and may take over entirely.
type Interceptor interface {
	// FindDirty may compute the dirty set itself (return Handled) or
	// decline (return NotHandled). current and previous align with
	// props.
	FindDirty(instance any, id any, current, previous []any, props []meta.Property) DirtyCheckResult
}

// NopInterceptor declines every dirty check.
type NopInterceptor struct{}

// FindDirty implements Interceptor.
func (NopInterceptor) FindDirty(any, any, []any, []any, []meta.Property) DirtyCheckResult {
	return NotHandled()
}
