// Package imaging copies a disc to an ISO image with GNU ddrescue.
//
// Each disc goes through three passes sharing one mapfile: a fast pass that
// skips bad areas, a direct-access retry pass, and a reverse direct-access
// retry pass. Output lands in <destination>/RIPPING as <label>.iso next to
// <label>_rescue.log; a repeated label gets a " (n)" suffix.
package imaging
