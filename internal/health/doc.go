// Package health schedules per-instance probes according to a
// cluster's health-check policy and runs the state machine that
// decides whether an instance stays in healthy query results.
// Instances move between Passing and Critical; StateWarning is
// declared but no transition enters it.
//
// Checkers are a capability set: the monitor dispatches on a cluster's
// configured check kind through a table lookup, never a type switch,
// so a fifth custom checker can register itself without modifying the
// monitor.
package health
