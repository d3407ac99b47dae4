// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// accountFlags identify and authenticate the account being moved.
func accountFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "handle",
			Aliases:  []string{"u"},
			Usage:    "Handle of the account to migrate (e.g. alice.bsky.social)",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "password",
			Aliases:  []string{"p"},
			Usage:    "Account password",
			Sources:  cli.EnvVars("ATX_PASSWORD"),
			Required: true,
		},
		&cli.StringFlag{
			Name:  "auth-factor",
			Usage: "Sign-in code emailed by the source PDS when two-factor login is enabled",
		},
	}
}

func destinationFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "to",
		Aliases:  []string{"pds"},
		Usage:    "Destination PDS URL",
		Required: true,
	}
}

// migrateFlags are shared by migrate and tui.
func migrateFlags() []cli.Flag {
	flags := append(accountFlags(), destinationFlag(),
		&cli.StringFlag{
			Name:  "email",
			Usage: "Email for the destination account",
		},
		&cli.StringFlag{
			Name:  "new-handle",
			Usage: "Handle for the destination account",
		},
		&cli.StringFlag{
			Name:  "invite-code",
			Usage: "Invite code, if the destination requires one",
		},
	)
	for _, p := range phaseFlags {
		flags = append(flags, &cli.BoolFlag{Name: p.name, Usage: p.usage, Value: true})
	}
	return flags
}

// phaseFlags map CLI toggles onto [models.PhaseFlags]; pass --name=false to skip a phase.
var phaseFlags = []struct {
	name  string
	usage string
}{
	{"create-account", "Create the destination account"},
	{"repo", "Export the repository and import it on the destination"},
	{"blobs", "Copy blobs"},
	{"missing-blobs", "Reconcile blobs the destination still reports missing"},
	{"prefs", "Copy preferences"},
	{"plc", "Request the PLC operation signature email"},
}

// setupCommand handles first-run setup.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create config.toml and initialize the state database",
		Action: r.Setup,
	}
}

// migrateCommand runs the migration workflow up to the handover request.
func migrateCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Copy an account to a new PDS and request the identity handover",
		Flags: append(migrateFlags(),
			&cli.StringFlag{
				Name:  "report",
				Usage: "Write missing blobs to a report in this format (csv, markdown, text, json)",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Report file path",
			},
		),
		Action: r.Migrate,
	}
}

// handoverCommand signs and submits the PLC operation and swaps which PDS is active.
func handoverCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "handover",
		Usage: "Sign the identity handover with the emailed token and activate the new PDS",
		Flags: append(accountFlags(), destinationFlag(),
			&cli.StringFlag{
				Name:     "token",
				Aliases:  []string{"t"},
				Usage:    "PLC operation token from the confirmation email",
				Required: true,
			},
		),
		Action: r.Handover,
	}
}

// deactivateCommand deactivates the account on the PDS it lived on before the current one.
func deactivateCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "deactivate",
		Usage:  "Deactivate the account on its previous PDS",
		Flags:  accountFlags(),
		Action: r.Deactivate,
	}
}

// statusCommand lists recorded migrations.
func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show recorded migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "did", Usage: "Only show migrations of this DID"},
			&cli.StringFlag{Name: "to", Usage: "Only show migrations to this PDS"},
			&cli.IntFlag{Name: "limit", Usage: "Maximum number of migrations to show", Value: 20},
			&cli.BoolFlag{Name: "json", Usage: "Output raw JSON"},
		},
		Action: r.Status,
	}
}

// missingCommand renders the missing-blob report for a recorded migration.
func missingCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "missing",
		Usage: "Report blobs that could not be migrated",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "did", Usage: "DID of the migrated account", Required: true},
			&cli.StringFlag{Name: "to", Usage: "Destination PDS URL (defaults to the latest migration)"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "csv, markdown, text or json", Value: "text"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Report file path; - prints to stdout", Value: "-"},
		},
		Action: r.Missing,
	}
}

// tuiCommand returns the top-level TUI command for an interactive migration.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"interactive", "ui"},
		Usage:   "Run a migration in the interactive TUI",
		Flags:   migrateFlags(),
		Action:  r.TUI,
	}
}
