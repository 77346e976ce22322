// Package storage persists the alarm collection and its side records.
//
// Every driver stores the full collection as one pretty-printed JSON document
// and self-heals on load: an unreadable document is moved aside under a
// "corrupt-YYYYMMDDHHMMSS" name and an empty collection is returned.
//
// Side records:
//   - Audit log appends (command mutations)
//   - Notifier dedup state (to survive restarts)
package storage
