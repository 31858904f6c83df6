// Package cli constructs the gl2gh command-line interface. It wires the Cobra
// command hierarchy to the layered configuration loader (embedded defaults,
// optional config file, GL2GH_ environment variables, flags) and to the zap
// logger shared by every subcommand.
package cli
