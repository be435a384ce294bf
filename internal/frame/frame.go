// Package frame implements the stack-frame filter (spec.md §4.13): an
// address at or below the transaction's captured checkpoint storage is
// conservatively private stack memory and accesses to it skip
// instrumentation.
package frame

// Filter holds one descriptor's conservative frame bottom.
type Filter struct {
	bottom uintptr
}

// SetBottom records addr as the frame bottom, called from outer begin
// with the checkpoint's own storage address (spec.md §4.1 step 1).
func (f *Filter) SetBottom(addr uintptr) { f.bottom = addr }

// Override lets application code enlarge the private region (spec.md
// §4.13: "applications may override the bottom via a runtime call").
func (f *Filter) Override(addr uintptr) { f.bottom = addr }

// IsPrivate reports whether addr lies at or below the captured frame bottom.
func (f *Filter) IsPrivate(addr uintptr) bool {
	return f.bottom != 0 && addr <= f.bottom
}
