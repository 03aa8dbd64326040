// Package session binds browser contexts to clients and serializes
// command execution per session.
//
// A Session owns one isolated browser context, one page and one worker
// goroutine. Commands submitted to a session run strictly in arrival
// order; distinct sessions execute in parallel. The Manager tracks
// ownership, enforces the hard session ceiling and reaps idle sessions
// in the background:
//
//	mgr := session.NewManager(pool, session.DefaultConfig(), logger)
//	s, err := mgr.Create(ctx, clientID)
//	...
//	err = s.Submit(ctx, func(ctx context.Context) { ... })
//
// Nothing is persisted. Sessions are process-local and vanish on
// restart, so clients must be prepared to handle SESSION_NOT_FOUND
// after a reconnect.
package session
