// ABOUTME: Help display for the buildpilot CLI with grouped flags, examples, and environment status.
// ABOUTME: Provides printHelp for polished usage output and envStatus for configuration variable detection.
package main

import (
	"fmt"
	"io"
	"os"
)

// printHelp writes a formatted help message to w, including usage patterns,
// grouped flags, examples, and environment status.
func printHelp(w io.Writer, ver string) {
	fmt.Fprintf(w, "buildpilot %s: drive remote app builds from the terminal\n", ver)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  buildpilot [-project <name>]                   Interactive terminal UI")
	fmt.Fprintln(w, "  buildpilot -project <name> -prompt <text>      Run one build and answer questions on the console")
	fmt.Fprintln(w, "  buildpilot -list                               List projects")
	fmt.Fprintln(w, "  buildpilot -run <name> | -stop-preview         Start or stop a preview server")
	fmt.Fprintln(w, "  buildpilot -project <name> -snapshots          List snapshots")
	fmt.Fprintln(w, "  buildpilot -project <name> -revert <id>        Revert to a snapshot")
	fmt.Fprintln(w, "  buildpilot -project <name> -export-history <f> Export build history as HTML")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Build Flags:")
	fmt.Fprintln(w, "  -project <name>       Target project (normalised: \"Space Quiz\" becomes space_quiz)")
	fmt.Fprintln(w, "  -prompt <text>        Build request; runs without the TUI")
	fmt.Fprintln(w, "  -attach <file>        Attach a file (repeatable, max 10 MB each)")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Connection Flags:")
	fmt.Fprintln(w, "  -server <url>         Build backend (default: http://localhost:5000)")
	fmt.Fprintln(w, "  -config <file>        YAML config file")
	fmt.Fprintln(w, "  -env-file <file>      .env file to load")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Diagnostics:")
	fmt.Fprintln(w, "  -log-level <level>    debug, info, warn, error (default: info)")
	fmt.Fprintln(w, "  -log-file <file>      Rotating log file")
	fmt.Fprintln(w, "  -telemetry            Write traces and metrics to the telemetry directory")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Other:")
	fmt.Fprintln(w, "  -demo                 Run against a local in-memory backend")
	fmt.Fprintln(w, "  -version              Print version and exit")
	fmt.Fprintln(w, "  -help                 Show this help")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  buildpilot -demo")
	fmt.Fprintln(w, "  buildpilot -project \"Space Quiz\"")
	fmt.Fprintln(w, "  buildpilot -project space_quiz -prompt \"add a countdown timer\" -attach sketch.png")
	fmt.Fprintln(w, "  buildpilot -run space_quiz")
	fmt.Fprintln(w, "  buildpilot -project space_quiz -export-history history.html")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Environment:")
	for _, key := range []string{
		"BUILDPILOT_SERVER",
		"BUILDPILOT_TIMEOUT",
		"BUILDPILOT_LOG_LEVEL",
		"BUILDPILOT_LOG_FILE",
		"BUILDPILOT_TELEMETRY",
	} {
		fmt.Fprintf(w, "  %-22s%s\n", key, envStatus(key))
	}
}

// envStatus returns "[set]" if the named environment variable is non-empty,
// or "[not set]" otherwise.
func envStatus(key string) string {
	if os.Getenv(key) != "" {
		return "[set]"
	}
	return "[not set]"
}
