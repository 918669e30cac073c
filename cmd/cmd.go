// submodule cmd contains command definitions
package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

func productionArg() cli.Argument {
	return &cli.StringArg{Name: "production", UsageText: "production id"}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{Name: "json", Usage: "Output raw JSON"}
}

// setupCommand handles setup operations for the database and configuration.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:  "database",
				Usage: "Initialize the session database and run migrations",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "rollback",
						Usage: "Roll back the most recent migration instead",
					},
				},
				Action: r.SetupDatabase,
			},
			{
				Name:  "config",
				Usage: "Write a config.toml populated with defaults",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Path of the config file to create",
						Value:   "config.toml",
					},
				},
				Action: r.SetupConfig,
			},
		},
	}
}

// authCommand handles authentication operations
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage the backend session",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Sign in with email and password",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "email",
						Aliases:  []string{"e"},
						Usage:    "Account email",
						Sources:  cli.EnvVars("CUEDECK_EMAIL"),
						Required: true,
					},
					&cli.StringFlag{
						Name:     "password",
						Aliases:  []string{"p"},
						Usage:    "Account password",
						Sources:  cli.EnvVars("CUEDECK_PASSWORD"),
						Required: true,
					},
				},
				Action: r.AuthLogin,
			},
			{
				Name:   "logout",
				Usage:  "Revoke the session and forget stored credentials",
				Action: r.AuthLogout,
			},
			{
				Name:  "status",
				Usage: "Show the stored session",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "remote",
						Usage: "Verify the session against the backend",
					},
				},
				Action: r.AuthStatus,
			},
		},
	}
}

// productionCommand handles state and engine commands for a production
func productionCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "production",
		Aliases: []string{"prod"},
		Usage:   "Observe and drive a live production",
		Commands: []*cli.Command{
			{
				Name:      "state",
				Usage:     "Print the current production state snapshot",
				Arguments: []cli.Argument{productionArg()},
				Flags:     []cli.Flag{jsonFlag()},
				Action:    r.ProductionState,
			},
			{
				Name:      "watch",
				Usage:     "Follow live state changes until interrupted",
				Arguments: []cli.Argument{productionArg()},
				Flags: []cli.Flag{
					jsonFlag(),
					&cli.BoolFlag{
						Name:  "listen",
						Usage: "Serve the local status API while watching",
					},
				},
				Action: r.ProductionWatch,
			},
			{
				Name:      "command",
				Usage:     "Send an engine command",
				Arguments: []cli.Argument{productionArg()},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "engine",
						Usage: "Target engine (obs or vmix)",
						Value: "obs",
					},
					&cli.StringFlag{
						Name:     "action",
						Aliases:  []string{"a"},
						Usage:    "Engine action, e.g. switch_scene",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:  "param",
						Usage: "Action parameter as key=value (repeatable)",
					},
				},
				Action: r.ProductionCommand,
			},
			{
				Name:      "trigger",
				Usage:     "Fire a hardware input as if pressed on the device",
				Arguments: []cli.Argument{productionArg()},
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "device", Usage: "Device type (midi, hid, deck)", Required: true},
					&cli.StringFlag{Name: "input", Usage: "Device input, e.g. note:60", Required: true},
				},
				Action: r.ProductionTrigger,
			},
		},
	}
}

// presenceCommand prints who is online in a production
func presenceCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "presence",
		Usage:     "List members present in a production",
		Arguments: []cli.Argument{productionArg()},
		Flags: []cli.Flag{
			jsonFlag(),
			&cli.BoolFlag{Name: "csv", Usage: "Output CSV"},
			&cli.DurationFlag{
				Name:  "wait",
				Usage: "How long to wait for the roster",
				Value: 5 * time.Second,
			},
		},
		Action: r.Presence,
	}
}

// intercomCommand handles push-to-talk and cue alerts
func intercomCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "intercom",
		Usage: "Talk floors and cue alerts",
		Commands: []*cli.Command{
			{
				Name:      "talk",
				Usage:     "Hold a talk floor until interrupted or for --duration",
				Arguments: []cli.Argument{productionArg()},
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "to", Usage: "User id for a private floor (default: broadcast)"},
					&cli.DurationFlag{Name: "duration", Usage: "Release the floor after this long"},
				},
				Action: r.IntercomTalk,
			},
			{
				Name:      "alert",
				Usage:     "Send a cue alert and wait for acknowledgments",
				Arguments: []cli.Argument{productionArg()},
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "message", Aliases: []string{"m"}, Usage: "Alert text", Required: true},
					&cli.StringFlag{Name: "color", Usage: "Alert color", Value: "red"},
					&cli.StringFlag{Name: "to", Usage: "User id to alert (default: everyone)"},
					&cli.DurationFlag{Name: "wait", Usage: "How long to collect acknowledgments", Value: 30 * time.Second},
				},
				Action: r.IntercomAlert,
			},
			{
				Name:      "listen",
				Usage:     "Print alerts and talk floors until interrupted",
				Arguments: []cli.Argument{productionArg()},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "respond",
						Usage: "Acknowledge each alert with this kind (confirmed, problem, do_not_cut, check, ready)",
					},
				},
				Action: r.IntercomListen,
			},
		},
	}
}

// chatCommand handles production chat
func chatCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Production chat",
		Commands: []*cli.Command{
			{
				Name:      "history",
				Usage:     "Print recent chat messages",
				Arguments: []cli.Argument{productionArg()},
				Flags: []cli.Flag{
					jsonFlag(),
					&cli.IntFlag{Name: "limit", Usage: "Maximum number of messages", Value: 50},
				},
				Action: r.ChatHistory,
			},
			{
				Name:  "send",
				Usage: "Send a chat message",
				Arguments: []cli.Argument{
					productionArg(),
					&cli.StringArg{Name: "message"},
				},
				Action: r.ChatSend,
			},
		},
	}
}

// automationCommand handles automation rules and executions
func automationCommand(r *Runner) *cli.Command {
	dataFlags := []cli.Flag{
		&cli.StringFlag{Name: "data", Aliases: []string{"d"}, Usage: "Rule JSON"},
		&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Path to a rule JSON file"},
	}

	return &cli.Command{
		Name:    "automation",
		Aliases: []string{"auto"},
		Usage:   "Automation rules",
		Commands: []*cli.Command{
			{
				Name:  "rules",
				Usage: "Manage rules",
				Commands: []*cli.Command{
					{
						Name:      "list",
						Usage:     "List rules",
						Arguments: []cli.Argument{productionArg()},
						Flags:     []cli.Flag{jsonFlag()},
						Action:    r.RulesList,
					},
					{
						Name:      "create",
						Usage:     "Create a rule from JSON",
						Arguments: []cli.Argument{productionArg()},
						Flags:     dataFlags,
						Action:    r.RulesCreate,
					},
					{
						Name:      "toggle",
						Usage:     "Enable or disable a rule",
						Arguments: []cli.Argument{productionArg(), &cli.StringArg{Name: "rule"}},
						Action:    r.RulesToggle,
					},
					{
						Name:      "delete",
						Usage:     "Delete a rule",
						Arguments: []cli.Argument{productionArg(), &cli.StringArg{Name: "rule"}},
						Action:    r.RulesDelete,
					},
					{
						Name:      "trigger",
						Usage:     "Run rules now and follow their executions",
						Arguments: []cli.Argument{productionArg(), &cli.StringArgs{Name: "rules", Min: 1, Max: -1}},
						Action:    r.RulesTrigger,
					},
				},
			},
			{
				Name:      "logs",
				Usage:     "Print the execution log",
				Arguments: []cli.Argument{productionArg()},
				Flags: []cli.Flag{
					jsonFlag(),
					&cli.StringFlag{Name: "rule", Usage: "Only this rule's executions"},
					&cli.StringFlag{Name: "csv", Usage: "Write CSV to this path (- for stdout)"},
				},
				Action: r.AutomationLogs,
			},
		},
	}
}

// hardwareCommand handles peripheral mappings
func hardwareCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "hardware",
		Aliases: []string{"hw"},
		Usage:   "Hardware input mappings",
		Commands: []*cli.Command{
			{
				Name:  "mappings",
				Usage: "Manage mappings",
				Commands: []*cli.Command{
					{
						Name:      "list",
						Usage:     "List mappings",
						Arguments: []cli.Argument{productionArg()},
						Flags:     []cli.Flag{jsonFlag()},
						Action:    r.MappingsList,
					},
					{
						Name:      "create",
						Usage:     "Map a device input to an engine command",
						Arguments: []cli.Argument{productionArg()},
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "device", Usage: "Device type (midi, hid, deck)", Required: true},
							&cli.StringFlag{Name: "input", Usage: "Device input, e.g. note:60", Required: true},
							&cli.StringFlag{Name: "label", Usage: "Display label"},
							&cli.StringFlag{Name: "engine", Usage: "Target engine (obs or vmix)", Value: "obs"},
							&cli.StringFlag{Name: "action", Usage: "Engine action", Required: true},
							&cli.StringSliceFlag{Name: "param", Usage: "Action parameter as key=value (repeatable)"},
						},
						Action: r.MappingsCreate,
					},
					{
						Name:      "delete",
						Usage:     "Delete a mapping",
						Arguments: []cli.Argument{productionArg(), &cli.StringArg{Name: "mapping"}},
						Action:    r.MappingsDelete,
					},
				},
			},
		},
	}
}

// webhooksCommand handles outbound notification targets
func webhooksCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "webhooks",
		Usage: "Outbound webhooks",
		Commands: []*cli.Command{
			{
				Name:      "list",
				Usage:     "List webhooks",
				Arguments: []cli.Argument{productionArg()},
				Flags:     []cli.Flag{jsonFlag()},
				Action:    r.WebhooksList,
			},
			{
				Name:      "create",
				Usage:     "Register a webhook",
				Arguments: []cli.Argument{productionArg()},
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "Webhook name", Required: true},
					&cli.StringFlag{Name: "url", Usage: "Target URL", Required: true},
					&cli.StringSliceFlag{Name: "event", Usage: "Event to deliver (repeatable)"},
				},
				Action: r.WebhooksCreate,
			},
			{
				Name:      "delete",
				Usage:     "Delete a webhook",
				Arguments: []cli.Argument{productionArg(), &cli.StringArg{Name: "webhook"}},
				Action:    r.WebhooksDelete,
			},
			{
				Name:      "test",
				Usage:     "Send a sample delivery",
				Arguments: []cli.Argument{productionArg(), &cli.StringArg{Name: "webhook"}},
				Action:    r.WebhooksTest,
			},
		},
	}
}

// socialCommand handles audience message moderation
func socialCommand(r *Runner) *cli.Command {
	moderate := func(name, usage string) *cli.Command {
		return &cli.Command{
			Name:      name,
			Usage:     usage,
			Arguments: []cli.Argument{productionArg(), &cli.StringArg{Name: "message"}},
			Action:    r.SocialModerate,
		}
	}

	return &cli.Command{
		Name:  "social",
		Usage: "Audience messages",
		Commands: []*cli.Command{
			{
				Name:      "list",
				Usage:     "List audience messages",
				Arguments: []cli.Argument{productionArg()},
				Flags: []cli.Flag{
					jsonFlag(),
					&cli.StringFlag{Name: "status", Usage: "Filter by status (pending, approved, on_air, hidden)"},
				},
				Action: r.SocialList,
			},
			moderate("approve", "Approve a message"),
			moderate("show", "Put an approved message on air"),
			moderate("hide", "Take a message off air"),
		},
	}
}

// apiCommand handles direct backend calls
func apiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Direct authenticated calls to the backend",
		Commands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "GET a path and print the payload",
				Arguments: []cli.Argument{&cli.StringArg{Name: "path"}},
				Action:    r.APICall,
			},
			{
				Name:      "post",
				Usage:     "POST a JSON body",
				Arguments: []cli.Argument{&cli.StringArg{Name: "path"}},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "data",
						Aliases: []string{"d"},
						Usage:   "JSON body to send",
					},
				},
				Action: r.APICall,
			},
			{
				Name:      "delete",
				Usage:     "DELETE a path",
				Arguments: []cli.Argument{&cli.StringArg{Name: "path"}},
				Action:    r.APICall,
			},
		},
	}
}
