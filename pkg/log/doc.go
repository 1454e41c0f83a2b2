/*
Package log provides structured logging for holonode using zerolog.

A single package-level Logger is configured once by log.Init from the CLI.
Until Init runs the logger discards everything, so library code and tests
can log freely without setup.

# Usage

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: false,
		Output:     os.Stderr,
	})

	logger := log.WithApp(log.WithComponent("installer"), "msgboard")
	logger.Info().Msg("App installed")

ParseLevel validates the --log-level flag before Init.

Component names used across the tree: "config", "embedded", "host-process",
"installer", "zomecall", "devhost", "node".

Never log passphrases, private keys or raw signatures.
*/
package log
