package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanwahyu/annoscope/internal/config"
	"github.com/bryanwahyu/annoscope/internal/infra/annotationapi"
)

// globalOptions are shared by every subcommand.
type globalOptions struct {
	configPath string
	baseURL    string
	token      string
	timeout    time.Duration
	scheme     string
	verbose    bool

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "annoctl",
		Short: "Inspect, fetch and save scoped image annotations",
		Long: strings.TrimSpace(`
annoctl parses image identifiers, normalises stored annotation bundles and
talks to the annotation record API. The compare command mounts two
comparison surfaces on a headless engine and reports what each one shows.
`),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.resolve(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "YAML config file (client and viewer sections are used)")
	pf.StringVar(&opts.baseURL, "base", "", "annotation API base URL")
	pf.StringVar(&opts.token, "token", "", "bearer token for the annotation API")
	pf.DurationVar(&opts.timeout, "timeout", 0, "HTTP timeout (default 15s)")
	pf.StringVar(&opts.scheme, "scheme", "", "scheme given to identifiers without one (default wadouri)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newIDCmd(opts), newBundleCmd(opts), newFetchCmd(opts), newSaveCmd(opts), newCompareCmd(opts))
	return root
}

// resolve merges config file values under explicit flags.
func (o *globalOptions) resolve(cmd *cobra.Command) error {
	var cfg *config.Config
	var err error
	if o.configPath != "" {
		cfg, err = config.Load(o.configPath)
	} else {
		cfg, err = config.Parse([]byte("{}"))
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if o.baseURL == "" {
		o.baseURL = cfg.Client.BaseURL
	}
	if o.token == "" {
		o.token = cfg.Client.Token
	}
	if o.timeout == 0 {
		o.timeout = cfg.Client.Timeout
	}
	if o.scheme == "" {
		o.scheme = cfg.Viewer.Scheme
	}
	if o.verbose {
		cfg.Log.Level = "debug"
	}
	o.cfg = cfg
	o.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.LogLevel()}))
	return nil
}

func (o *globalOptions) client() (*annotationapi.Client, error) {
	if strings.TrimSpace(o.baseURL) == "" {
		return nil, fmt.Errorf("--base (or client.baseURL in the config) is required")
	}
	return annotationapi.NewClient(o.baseURL, o.token, o.timeout), nil
}

// readInput reads a file argument, or stdin for "-" and no argument.
func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(args[0])
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
