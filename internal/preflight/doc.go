// Package preflight provides readiness checks for the serial link, drive
// devices, external tools, and filesystem paths that autorip depends on.
//
// `autorip check` prints every result; `autorip run` refuses to start when a
// required check fails so a doomed run never moves a disc.
package preflight
