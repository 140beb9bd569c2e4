// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package goroutineUtil

// SafeGoroutine runs fn on a new goroutine with panic recovery. Optional
// callbacks receive the recovered value before the default handler logs it.
func SafeGoroutine(fn func(), callbacks ...func(r interface{})) {
	go func() {
		defer RecoverFunc(func(r any) {
			for _, cb := range callbacks {
				if cb != nil {
					cb(r)
				}
			}
		})()
		fn()
	}()
}
