// Package autoloader speaks the robot's serial protocol and exposes the bin
// and drive actions built on it.
//
// An Engine owns the transport and serializes whole transactions submitted
// through Engine.Do. Inside a transaction every command is followed by a
// status probe; door faults are retried with backoff until they clear or the
// retry budget runs out. CountDiscs turns a bin probe into a disc count using
// calibrated sensor constants.
package autoloader
