// Package app contains the core application logic. It loads the ensemble
// configuration, builds the queue driver and runs one evaluation, decoupled
// from any specific entrypoint like a CLI.
package app
