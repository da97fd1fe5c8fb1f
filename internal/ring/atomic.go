package ring

import (
	"sync/atomic"
	"unsafe"
)

// loadAcquire32/storeRelease32 give the ownership word the strongest
// acquire/release pairing that is still cheaper than a full barrier. On
// every architecture Go supports,
// atomic.LoadUint32/StoreUint32 already compile to the acquire/release (or
// stronger) instruction for that platform, so there is no hand-rolled
// fence here — just a named wrapper so the ring code reads as a
// synchronization protocol rather than a raw memory access.
func loadAcquire32(p *byte) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(p)))
}

func storeRelease32(p *byte, v uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(p)), v)
}
