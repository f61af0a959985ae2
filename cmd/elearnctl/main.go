package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"github.com/common-nighthawk/go-figure"

	"github.com/jrsteele09/elearn-session/core"
	"github.com/jrsteele09/elearn-session/internal/config"
	elog "github.com/jrsteele09/elearn-session/internal/log"
)

var version = "dev"

type cliConfig struct {
	server     string
	storage    string
	jsonOutput bool
	quiet      bool
}

var errShowUsage = errors.New("show usage")

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, errShowUsage) {
			printUsage()
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(argv []string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	cli, command, args, err := parseArgs(argv)
	if err != nil {
		return err
	}

	switch command {
	case "help", "--help", "-h":
		printUsage()
		return nil
	case "version":
		fmt.Printf("elearnctl %s\n", version)
		return nil
	}

	cfg, err := config.New(
		config.Set("backend.base_url", cli.server),
		config.Set("storage.driver", cli.storage),
	)
	if err != nil {
		return err
	}
	if !cli.quiet && !cli.jsonOutput {
		displayAppname(cfg.GetAppName())
	}
	logger := elog.New(os.Stderr, cfg.GetEnv(), cfg.GetLogLevel())
	ctx := context.Background()

	if command == "demo" {
		return runDemo(ctx, logger, cli)
	}

	c, err := core.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Dispose(); err != nil && returnError == nil {
			returnError = err
		}
	}()
	c.Init(ctx)

	switch command {
	case "login":
		return runLogin(ctx, c, cli, args)
	case "register":
		return runRegister(ctx, c, cli, args)
	case "whoami":
		return runWhoami(c, cli, args)
	case "logout":
		return runLogout(ctx, c, args)
	case "access":
		return runAccess(ctx, c, cli, args)
	case "courses":
		return runCourses(ctx, c, cli, args)
	case "favorite":
		return runFavorite(ctx, c, args)
	case "notifications":
		return runNotifications(ctx, c, cli, args)
	}
	return fmt.Errorf("unknown command: %s", command)
}

func parseArgs(args []string) (cliConfig, string, []string, error) {
	cfg := cliConfig{}

	idx := 0
	for idx < len(args) {
		arg := args[idx]
		if !strings.HasPrefix(arg, "-") {
			break
		}
		switch arg {
		case "--help", "-h":
			return cfg, "", nil, errShowUsage
		case "--server", "-s":
			if idx+1 >= len(args) {
				return cfg, "", nil, fmt.Errorf("--server requires a value")
			}
			cfg.server = args[idx+1]
			idx += 2
		case "--storage":
			if idx+1 >= len(args) {
				return cfg, "", nil, fmt.Errorf("--storage requires a value")
			}
			cfg.storage = args[idx+1]
			idx += 2
		case "--json":
			cfg.jsonOutput = true
			idx++
		case "--quiet", "-q":
			cfg.quiet = true
			idx++
		default:
			return cfg, "", nil, fmt.Errorf("unknown flag: %s", arg)
		}
	}

	if idx >= len(args) {
		return cfg, "", nil, errShowUsage
	}
	return cfg, args[idx], args[idx+1:], nil
}

func printUsage() {
	fmt.Print(`Usage: elearnctl [--server <url>] [--storage file|redis|memory] [--json] [--quiet] <command>

Commands:
  login <email> <password> [redirect]     Sign in and store the credential
  register <email> <password> <name> [role]
                                          Create an account and sign in
  whoami                                  Show the current session
  logout                                  Sign out and clear stored state
  access <course-id>                      Evaluate the content guard for a course
  courses [search]                        List the catalogue
  favorite <course-id>                    Toggle a course favorite
  notifications [--unread]                List notifications
  demo                                    Run a scripted session against an in-process backend
  version                                 Print the version
`)
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
