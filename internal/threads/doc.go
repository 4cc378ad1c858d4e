// Package threads resolves inbound correlation hints to thread keys and
// persists conversation threads together with their exchange records.
//
// A thread is committed as a unit: the history update and every staged
// exchange record land in one database transaction or not at all. Commits
// carry the thread version they were computed from, so two turns racing on
// the same key cannot silently overwrite each other; the loser receives
// ErrVersionConflict. Callers that want to avoid the conflict entirely
// serialize work per key with a KeyLocker.
package threads
