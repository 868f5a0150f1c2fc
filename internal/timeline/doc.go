// Package timeline orders accepted effects against a virtual playhead and
// releases them to dispatch when they fall due.
//
// Effects enter through a bounded ingress queue (Submit) or directly
// (Schedule). Each Tick drains the queue into the pending set, advances the
// playhead by the elapsed clock time while Playing, and releases due
// effects in (trigger asc, priority desc, insertion order asc) order.
//
// State machine:
//
//	Stopped --Play--> Playing --Pause--> Paused --Play--> Playing
//	{Playing, Paused} --Stop--> Stopped (pending dropped, playhead 0)
//
// Seek moves the playhead without changing state. Effects left behind are
// dropped unless they opted into catch-up. One-shot effects skip the
// timeline and are released on the next tick whatever the state.
//
// Every effect that leaves the pending set without being released is
// reported to the Observer with a reason, so nothing disappears silently.
package timeline
