// Package configstore holds the current value and append-only history
// of every (data_id, group, tenant) configuration entry, including
// gray-release overlays. Publish is idempotent on identical content;
// query resolves the gray overlay that applies to a caller's labels
// before falling back to the base entry.
package configstore
