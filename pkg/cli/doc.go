// Package cli implements the peek command line: serve runs the demo
// application with the inspector mounted, tail follows a running
// inspector's event stream.
package cli
