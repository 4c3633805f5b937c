// Package store provides persistence backends for sessions and their
// Q&A exchanges. The Store interface itself lives in pkg/session next
// to its consumer.
package store

import "github.com/lectern-ai/lectern/pkg/session"

var (
	_ session.Store = (*Memory)(nil)
	_ session.Store = (*Postgres)(nil)
)
