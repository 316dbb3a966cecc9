// Command fitcipher-client records runs on a fitcipher server and reads
// back the totals. Values are encrypted before they leave the machine and
// only this client can decrypt the totals.
//
// Without a subcommand it starts an interactive menu.
//
// # Usage
//
//	fitcipher-client [flags]                        interactive menu
//	fitcipher-client [flags] add -distance 5 -time 1
//	fitcipher-client [flags] metrics
//	fitcipher-client [flags] bench -runs 100 -rounds 10
//
// The keyring passphrase is read from the environment variable named by
// passphrase_env (FITCIPHER_KEYRING_PASSPHRASE by default).
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/fitcipher/fitcipher/client"
	"github.com/fitcipher/fitcipher/keys"
	"github.com/fitcipher/fitcipher/scheme"
	"github.com/fitcipher/fitcipher/service"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		serverURL   = flag.String("server", "", "Server URL")
		keyringPath = flag.String("keyring", "", "Keyring file of the client key pair")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warning, error)")
		adopt       = flag.Bool("adopt-server-keys", false, "Use the key pair exported by the server")
	)
	flag.Parse()

	cfg, err := loadConfiguration(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}
	if *keyringPath != "" {
		cfg.KeyringPath = *keyringPath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *adopt {
		cfg.AdoptServerKeys = true
	}

	logger, err := service.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := setup(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		menu(ctx, session, os.Stdin, os.Stdout)
		return
	}

	if err := runCommand(ctx, session, args[0], args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", args[0], err)
		os.Exit(1)
	}
}

func loadConfiguration(configPath string) (*client.Config, error) {
	if configPath != "" {
		return client.LoadConfig(configPath)
	}
	return client.DefaultConfig(), nil
}

func setup(ctx context.Context, cfg *client.Config, logger logrus.FieldLogger) (*client.Session, error) {
	params, err := scheme.NewContext(cfg.Scheme)
	if err != nil {
		return nil, err
	}

	api, err := client.New(cfg.ServerURL, client.WithTimeout(cfg.Timeout), client.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	var ka *keys.KeyAuthority
	if !cfg.AdoptServerKeys {
		passphrase, err := cfg.Passphrase()
		if err != nil {
			return nil, fmt.Errorf("keyring: %w", err)
		}
		var created bool
		if ka, created, err = keys.LoadOrCreateKeyring(cfg.KeyringPath, passphrase, params); err != nil {
			return nil, err
		}
		if created {
			fmt.Printf("Created a new key pair in %s\n", cfg.KeyringPath)
		}
	}

	fmt.Println("Setting up encryption...")
	session := client.NewSession(params, api, ka)
	if err = session.Setup(ctx); err != nil {
		return nil, err
	}
	return session, nil
}

func runCommand(ctx context.Context, session *client.Session, name string, args []string) error {
	switch name {
	case "add":
		fs := flag.NewFlagSet("add", flag.ExitOnError)
		distance := fs.Int64("distance", -1, "Running distance (km)")
		hours := fs.Int64("time", -1, "Running time (hours)")
		fs.Parse(args)

		id, err := session.AddRun(ctx, *distance, *hours)
		if err != nil {
			return err
		}
		fmt.Printf("Run recorded: %s\n", id)
		return nil

	case "metrics":
		sum, err := session.Metrics(ctx)
		if err != nil {
			return err
		}
		printMetrics(os.Stdout, sum)
		return nil

	case "bench":
		fs := flag.NewFlagSet("bench", flag.ExitOnError)
		runs := fs.Int("runs", 20, "Number of runs to submit")
		rounds := fs.Int("rounds", 5, "Number of aggregations to time")
		fs.Parse(args)

		report, err := client.Bench(ctx, session, *runs, *rounds)
		if err != nil {
			return err
		}
		report.Print(os.Stdout)
		return nil

	default:
		return fmt.Errorf("unknown command, expected add, metrics or bench")
	}
}

func menu(ctx context.Context, session *client.Session, in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)

	errInvalid := errors.New("invalid number")

	readInt := func(prompt string) (int64, error) {
		fmt.Fprint(out, prompt)
		if !scanner.Scan() {
			return 0, io.EOF
		}
		n, err := strconv.ParseInt(strings.TrimSpace(scanner.Text()), 10, 64)
		if err != nil {
			fmt.Fprintln(out, "Please enter a whole number.")
			return 0, errInvalid
		}
		return n, nil
	}

	for ctx.Err() == nil {
		fmt.Fprintln(out, "********* Menu (enter the option number and press enter) *********")
		fmt.Fprintln(out, "1. Add running distance")
		fmt.Fprintln(out, "2. Get metrics")
		fmt.Fprintln(out, "3. Exit")
		fmt.Fprint(out, "Option: ")

		if !scanner.Scan() {
			return
		}

		switch strings.TrimSpace(scanner.Text()) {
		case "1":
			distance, err := readInt("Enter the new running distance (km): ")
			if err == io.EOF {
				return
			} else if err != nil {
				continue
			}
			if distance < 0 {
				fmt.Fprintln(out, "Running distance must not be negative.")
				continue
			}
			hours, err := readInt("Enter the new running time (hours): ")
			if err == io.EOF {
				return
			} else if err != nil {
				continue
			}
			if hours < 0 {
				fmt.Fprintln(out, "Running time must not be negative.")
				continue
			}
			if _, err := session.AddRun(ctx, distance, hours); err != nil {
				fmt.Fprintf(out, "Cannot add run: %v\n", err)
			}

		case "2":
			sum, err := session.Metrics(ctx)
			switch {
			case errors.Is(err, client.ErrResultUnavailable):
				fmt.Fprintln(out, "Metrics are unavailable: the totals cannot be decrypted.")
			case err != nil:
				fmt.Fprintf(out, "Cannot get metrics: %v\n", err)
			default:
				printMetrics(out, sum)
			}

		case "3", "q", "quit", "exit":
			return

		default:
			fmt.Fprintln(out, "Unknown option.")
		}
	}
}

func printMetrics(out io.Writer, sum client.Summary) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "********* Metrics *********")
	fmt.Fprintf(out, "Total runs: %d\n", sum.Runs)
	fmt.Fprintf(out, "Total distance: %d\n", sum.Distance)
	fmt.Fprintf(out, "Total hours: %d\n", sum.Hours)
	fmt.Fprintln(out)
}
