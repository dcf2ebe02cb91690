// Package logging provides opt-in file-based logging with rotation for HybridRAG3.
// When the --debug flag is set, comprehensive logs are written to ~/.hybridrag3/logs/
// for debugging and troubleshooting.
//
// By default (without --debug), logging is minimal and goes to stderr only.
package logging
