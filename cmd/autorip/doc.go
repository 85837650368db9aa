// Command autorip drives a multi-bin optical disc autoloader: it moves discs
// from input bins into the drives, images each disc with ddrescue, and
// returns it to an output bin.
//
// `autorip run` is the main entry point; the remaining commands inspect the
// robot, the run ledger, and the host before a run.
package main
