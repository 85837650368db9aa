// Package ledger keeps imaging history and bin probe samples in a local
// SQLite database. It is a record of what happened, not a work queue: a
// restarted run always re-probes the bins.
package ledger
