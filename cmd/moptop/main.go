package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/LivTel/moptop/internal/daemon"
	"github.com/LivTel/moptop/internal/model"
	"github.com/LivTel/moptop/internal/uds"
	"github.com/LivTel/moptop/templates"
)

const version = "1.0.0"

// defaultConfigPath is used when neither --config nor MOPTOP_CONFIG is given.
const defaultConfigPath = "/etc/moptop/config.yaml"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}

	var err error
	code := 0
	switch args[0] {
	case "daemon":
		code, err = runDaemon(args[1:])
	case "send":
		code, err = runSend(args[1:], stdout, stderr)
	case "config":
		err = runConfig(args[1:], stdout)
	case "version":
		fmt.Fprintf(stdout, "moptop %s\n", version)
	case "help", "--help", "-h":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n\n", args[0])
		printUsage(stderr)
		return 1
	}
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return code
}

func configFlag(fs *pflag.FlagSet) *string {
	def := os.Getenv("MOPTOP_CONFIG")
	if def == "" {
		def = defaultConfigPath
	}
	return fs.StringP("config", "c", def, "configuration file (env MOPTOP_CONFIG)")
}

// runDaemon blocks until the daemon stops and returns the exit code requested by REBOOT.
func runDaemon(args []string) (int, error) {
	fs := pflag.NewFlagSet("daemon", pflag.ContinueOnError)
	configPath := configFlag(fs)
	logLevel := fs.String("log-level", "", "override logging.level")
	if err := fs.Parse(args); err != nil {
		return 1, err
	}

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		return 1, fmt.Errorf("load config: %w", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	d, err := daemon.New(*configPath, cfg)
	if err != nil {
		return 1, fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Run(); err != nil {
		return 1, fmt.Errorf("daemon: %w", err)
	}
	return d.ExitCode(), nil
}

// runSend sends one command to a running daemon and prints the AggregateResult as
// JSON. The exit code is 2 when the command ran but failed.
func runSend(args []string, stdout, stderr io.Writer) (int, error) {
	fs := pflag.NewFlagSet("send", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := configFlag(fs)
	socket := fs.String("socket", "", "daemon socket (default from config)")
	params := fs.StringP("params", "p", "", "command parameters as a JSON object")
	timeout := fs.Duration("timeout", 30*time.Second, "wait allowed beyond the acknowledged time to complete")
	quiet := fs.BoolP("quiet", "q", false, "do not print acknowledge frames")
	if err := fs.Parse(args); err != nil {
		return 1, err
	}
	if fs.NArg() != 1 {
		return 1, fmt.Errorf("usage: moptop send <command> [--params JSON]\ncommands: %s", commandList())
	}
	command := strings.ToLower(fs.Arg(0))

	path := *socket
	if path == "" {
		var err error
		if path, err = socketFromConfig(*configPath); err != nil {
			return 1, err
		}
	}

	req := &uds.Request{ProtocolVersion: uds.ProtocolVersion, Command: command}
	if *params != "" {
		if !json.Valid([]byte(*params)) {
			return 1, fmt.Errorf("--params is not valid JSON: %s", *params)
		}
		req.Params = json.RawMessage(*params)
	}

	client := uds.NewClient(path)
	client.SetTimeout(*timeout)
	if !*quiet {
		client.OnAck(func(ttc time.Duration) {
			fmt.Fprintf(stderr, "%s acknowledged, time to complete %s\n", strings.ToUpper(command), ttc)
		})
	}
	resp, err := client.Send(req)
	if err != nil {
		return 1, err
	}
	if resp.Error != nil {
		return 1, fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
	}

	var out any
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return 1, fmt.Errorf("decode result: %w", err)
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return 1, err
	}
	if !resp.Success {
		return 2, nil
	}
	return 0, nil
}

func socketFromConfig(configPath string) (string, error) {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return "", fmt.Errorf("load config: %w (use --socket to bypass)", err)
	}
	if cfg.Daemon.SocketPath != "" {
		return cfg.Daemon.SocketPath, nil
	}
	return filepath.Join(cfg.Daemon.StateDir, uds.DefaultSocketName), nil
}

func runConfig(args []string, stdout io.Writer) error {
	if len(args) < 1 || args[0] != "init" {
		return errors.New("usage: moptop config init [path] [--force]")
	}
	fs := pflag.NewFlagSet("config init", pflag.ContinueOnError)
	force := fs.Bool("force", false, "overwrite an existing file")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	data, err := templates.FS.ReadFile(templates.ConfigName)
	if err != nil {
		return fmt.Errorf("read embedded config: %w", err)
	}
	if fs.NArg() == 0 {
		_, err := stdout.Write(data)
		return err
	}

	path := fs.Arg(0)
	if _, err := os.Stat(path); err == nil && !*force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Fprintf(stdout, "wrote %s\n", path)
	return nil
}

func commandList() string {
	names := make([]string, len(model.CommandKinds))
	for i, k := range model.CommandKinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `moptop %s: MOPTOP polarimeter control layer

Usage: moptop <command> [options]

Daemon:
  daemon [-c config] [--log-level L]   Run the control daemon

Instrument commands (CLI → Daemon):
  send <command> [-p JSON] [--socket path] [--timeout d]
      commands: %s
      e.g. moptop send multrun -p '{"exposure_length_ms":10000,"exposure_count":4}'
           moptop send reboot -p '{"level":"REDATUM"}'

Utilities:
  config init [path] [--force]   Write the default configuration
  version                        Show version
  help                           Show this help
`, version, commandList())
}
