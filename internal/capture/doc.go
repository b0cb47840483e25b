// Package capture defines the domain types, ports, and error taxonomy shared by
// the analyzer, archiver, orchestrator, and manifest subsystems.
package capture
