// ABOUTME: One-shot CLI commands: project listing, preview start/stop, history export, and snapshot list/revert.
// ABOUTME: Each returns an exit code and prints user-facing output to stdout, errors to stderr.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/2389-research/buildpilot/history"
	"github.com/2389-research/buildpilot/project"
)

func (a *app) listProjects(ctx context.Context, stdout, stderr io.Writer) int {
	projects, err := a.registry.ListProjects(ctx)
	if err != nil {
		// Unknown, not empty.
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if len(projects) == 0 {
		fmt.Fprintln(stdout, "No projects yet.")
		return 0
	}
	running, _ := a.registry.RunningProject(ctx)

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROJECT\tTECH\tPREVIEW")
	for _, p := range projects {
		state := ""
		if p.Name == running {
			state = "running"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, p.Tech, state)
	}
	tw.Flush()
	return 0
}

func (a *app) startPreview(ctx context.Context, raw string, stdout, stderr io.Writer) int {
	name, err := project.NormalizeName(raw)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	res, err := a.preview.Start(ctx, name)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if res.Static {
		msg := res.Message
		if msg == "" {
			msg = name + " is a static project; open its index.html directly."
		}
		fmt.Fprintln(stdout, msg)
		return 0
	}
	fmt.Fprintf(stdout, "Preview of %s running at %s\n", name, res.URL)
	return 0
}

func (a *app) stopPreview(ctx context.Context, stdout, stderr io.Writer) int {
	if err := a.preview.Stop(ctx); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "Preview stopped.")
	return 0
}

// requireProject normalises the -project flag for commands that need one.
func requireProject(raw, flagName string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%s requires -project", flagName)
	}
	return project.NormalizeName(raw)
}

func (a *app) exportHistory(ctx context.Context, raw, dest string, stdout, stderr io.Writer) int {
	name, err := requireProject(raw, "-export-history")
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	entries, err := a.client.FetchHistory(ctx, name)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	if dest == "-" {
		if err := history.WriteHTML(stdout, name, entries); err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}

	f, err := os.Create(dest)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	err = history.WriteHTML(f, name, entries)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Wrote %d build(s) of %s to %s\n", len(entries), name, dest)
	return 0
}

func (a *app) listSnapshots(ctx context.Context, raw string, stdout, stderr io.Writer) int {
	name, err := requireProject(raw, "-snapshots")
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	snaps, err := a.client.ListSnapshots(ctx, name)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if len(snaps) == 0 {
		fmt.Fprintf(stdout, "No snapshots for %s.\n", name)
		return 0
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SNAPSHOT\tTAKEN\tPROMPT")
	for _, s := range snaps {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, s.Time().Local().Format("2006-01-02 15:04:05"), s.PromptPreview)
	}
	tw.Flush()
	return 0
}

func (a *app) revertSnapshot(ctx context.Context, raw, id string, stdout, stderr io.Writer) int {
	name, err := requireProject(raw, "-revert")
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if err := a.client.RevertSnapshot(ctx, name, id); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Reverted %s to snapshot %s.\n", name, id)
	return 0
}
