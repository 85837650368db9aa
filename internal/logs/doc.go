// Package logs reads per-run log files for the `autorip logs` command.
//
// Latest finds the newest run log in the log directory; Tail returns its last
// lines and the byte offset they end at, and Follow streams lines appended
// after that offset until the context ends.
package logs
