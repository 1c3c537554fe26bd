package shmam

import "sync/atomic"

func loadU64(p *uint64) uint64    { return atomic.LoadUint64(p) }
func storeU64(p *uint64, v uint64) { atomic.StoreUint64(p, v) }
func loadU32(p *uint32) uint32    { return atomic.LoadUint32(p) }
func storeU32(p *uint32, v uint32) { atomic.StoreUint32(p, v) }
func addU32(p *uint32, delta uint32) uint32 { return atomic.AddUint32(p, delta) }
