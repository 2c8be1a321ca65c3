package metastore

import "sync"

var stagedPool = &sync.Pool{
	New: func() any {
		return make([]stagedStmt, 0, 64)
	},
}

func releaseStaged(buf []stagedStmt) {
	clear(buf) // drop params so they can be collected
	stagedPool.Put(buf[:0])
}
