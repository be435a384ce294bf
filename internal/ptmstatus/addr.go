package ptmstatus

import "unsafe"

const wordSize = unsafe.Sizeof(Word{})

func wordAddr(w *Word) uintptr { return uintptr(unsafe.Pointer(w)) }
