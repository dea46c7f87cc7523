package buffer

import "sync/atomic"

func loadU64(p *uint64) uint64   { return atomic.LoadUint64(p) }
func storeU64(p *uint64, v uint64) { atomic.StoreUint64(p, v) }
func loadI64(p *int64) int64     { return atomic.LoadInt64(p) }
func storeI64(p *int64, v int64) { atomic.StoreInt64(p, v) }
func loadI32(p *int32) int32     { return atomic.LoadInt32(p) }
func addI32(p *int32, delta int32) int32 { return atomic.AddInt32(p, delta) }
