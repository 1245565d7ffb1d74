// Package subscription maintains the exact-match and fuzzy-watch
// membership indexes that map a changed fingerprint back to the
// connections that care about it, and batches fan-out per connection
// within a short coalescing window.
package subscription
