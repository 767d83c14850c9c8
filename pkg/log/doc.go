/*
Package log provides structured logging for Courier using zerolog.

The package holds one global zerolog.Logger configured by Init. Components
derive child loggers that carry identifying fields, so every line can be
filtered by the part of the control plane that wrote it:

	logger := log.WithComponent("reconciler")
	ilog := log.WithInstance(logger, "standard/tenant-a")
	ilog.Info().Str("phase", "ready").Msg("instance reconciled")

Until Init is called the global logger discards everything. Tests that do
not care about output need no setup.

# Configuration

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stderr,
	})

Console output (JSONOutput false) is meant for terminals; JSON output is
meant for log shippers.

# Fields

  - component: controller, reconciler, configserv, source, api, manager
  - node_id: raft node identity
  - instance: InstanceID of an address space, "<type>/<name>"
  - address_space: address space name
  - observer_key: canonical form of a config observer key
*/
package log
