package idgen

import "sync/atomic"

// Int64 returns values 1,2,3... Zero is never generated, so callers can use
// 0 as "no id".
type Int64 struct {
	next atomic.Int64
}

func (u *Int64) Next() int64 {
	return u.next.Add(1)
}
