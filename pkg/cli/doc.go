// Package cli implements the mcptap command-line interface.
//
// Subcommands register themselves with the root command in their init
// functions; main only calls Execute.
package cli
