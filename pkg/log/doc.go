/*
Package log provides structured logging for cutover built on zerolog.

Call Init once at process start, then use the package-level helpers or
derive child loggers scoped to a component, application, color, or host:

	log.Init(log.Config{Level: log.InfoLevel})
	logger := log.WithComponent("deployer")
	logger.Info().Str("color", "green").Msg("starting new container set")

Console output is the default; JSONOutput switches to newline-delimited
JSON for log shippers.
*/
package log
