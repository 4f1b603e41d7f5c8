package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jmerrifield20/digaas/internal/auth"
	"github.com/jmerrifield20/digaas/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL    string
	apiToken     string
	cfgFile      string
	outputFormat string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "digaasctl",
	Short: "Command-line client for the digaas DNS propagation service",
	Long: `digaasctl submits DNS change observations to a digaas server, waits for
their outcome and retrieves propagation statistics.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.digaas")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("digaas")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8123"
		}
		if apiToken == "" {
			apiToken = viper.GetString("token")
		}
		switch outputFormat {
		case "text", "json", "yaml":
			return nil
		default:
			return fmt.Errorf("unknown --format %q (text, json or yaml)", outputFormat)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.digaas/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "digaas server URL (default http://localhost:8123)")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", "", "API bearer token (env DIGAAS_TOKEN)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "o", "text", "Output format: text, json or yaml")

	rootCmd.AddCommand(observeCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() (*client.Client, error) {
	var opts []client.Option
	if apiToken != "" {
		opts = append(opts, client.WithToken(apiToken))
	}
	return client.New(serverURL, opts...)
}

// ── observe ──────────────────────────────────────────────────────────────────

var (
	obsName       string
	obsNameserver string
	obsType       string
	obsCondition  string
	obsRecordType string
	obsSerial     uint32
	obsData       string
	obsStart      string
	obsTimeout    time.Duration
	obsInterval   time.Duration
	obsWait       bool
)

var observeCmd = &cobra.Command{
	Use:   "observe",
	Short: "Watch a nameserver until a DNS change is visible",
	Long: `observe submits an observation to the server. By default it returns as
soon as the observation is accepted; with --wait it polls until the
observation completes or fails.

Examples:

  # A new zone, created just now
  digaasctl observe --name example.com --nameserver 192.0.2.53 --type ZONE_CREATE --wait

  # A zone update: wait for serial 2026030102 or later
  digaasctl observe --name example.com --nameserver ns1.example.net \
      --type ZONE_UPDATE --serial 2026030102

  # An A record with a given address
  digaasctl observe --name www.example.com --nameserver 192.0.2.53 \
      --type RECORD_CREATE --record-type A --data 192.0.2.10`,
	Args: cobra.NoArgs,
	RunE: runObserve,
}

func init() {
	observeCmd.Flags().StringVar(&obsName, "name", "", "Name of the zone or record to watch")
	observeCmd.Flags().StringVar(&obsNameserver, "nameserver", "", "Nameserver to query (host or host:port)")
	observeCmd.Flags().StringVar(&obsType, "type", "", "Change type: ZONE_CREATE, ZONE_UPDATE, ZONE_DELETE, RECORD_CREATE, RECORD_UPDATE, RECORD_DELETE")
	observeCmd.Flags().StringVar(&obsCondition, "condition", "", "Explicit condition, e.g. SERIAL_NOT_LOWER or RECORD_EXISTS")
	observeCmd.Flags().StringVar(&obsRecordType, "record-type", "", "Record type for record conditions (A, AAAA, TXT, ...)")
	observeCmd.Flags().Uint32Var(&obsSerial, "serial", 0, "Expected minimum SOA serial")
	observeCmd.Flags().StringVar(&obsData, "data", "", "Expected record data")
	observeCmd.Flags().StringVar(&obsStart, "start", "", "When the change was made: RFC 3339 or epoch seconds (default now)")
	observeCmd.Flags().DurationVar(&obsTimeout, "timeout", 5*time.Minute, "Give up after this long")
	observeCmd.Flags().DurationVar(&obsInterval, "interval", time.Second, "Delay between queries")
	observeCmd.Flags().BoolVar(&obsWait, "wait", false, "Wait for the observation to finish")
	_ = observeCmd.MarkFlagRequired("name")
	_ = observeCmd.MarkFlagRequired("nameserver")
}

func runObserve(cmd *cobra.Command, args []string) error {
	start := time.Now()
	if obsStart != "" {
		t, err := parseTime(obsStart)
		if err != nil {
			return err
		}
		start = t
	}

	req := client.ObserverRequest{
		TargetName: obsName,
		Nameserver: obsNameserver,
		RecordType: obsRecordType,
		Type:       strings.ToUpper(obsType),
		Condition:  obsCondition,
		StartTime:  client.At(start),
		Timeout:    client.Seconds(obsTimeout),
		Interval:   client.Seconds(obsInterval),
	}
	if cmd.Flags().Changed("serial") {
		req.ExpectedSerial = &obsSerial
	}
	if cmd.Flags().Changed("data") {
		req.ExpectedData = &obsData
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	o, err := c.SubmitObserver(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("submit observation: %w", err)
	}
	if obsWait {
		id := o.ID
		if o, err = c.WaitObserver(cmd.Context(), id, obsInterval); err != nil {
			return fmt.Errorf("wait for observation %s: %w", id, err)
		}
	}
	return printObserver(os.Stdout, o)
}

// ── get ──────────────────────────────────────────────────────────────────────

var getCmd = &cobra.Command{
	Use:   "get <observer-id>",
	Short: "Show an observation and its outcome",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		o, err := c.GetObserver(cmd.Context(), args[0])
		if err != nil {
			if errors.Is(err, client.ErrNotFound) {
				return fmt.Errorf("observer %s not found", args[0])
			}
			return err
		}
		return printObserver(os.Stdout, o)
	},
}

// ── token ────────────────────────────────────────────────────────────────────

var (
	tokenSecret  string
	tokenIssuer  string
	tokenSubject string
	tokenScopes  []string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API token from the server's signing secret",
	Long: `token signs a bearer token locally with the same secret the server is
configured with (auth.secret). Keep the secret off shared machines.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenSecret == "" {
			tokenSecret = viper.GetString("auth_secret")
		}
		ti, err := auth.NewIssuer(tokenSecret, tokenIssuer, tokenTTL)
		if err != nil {
			return err
		}
		tok, err := ti.Issue(tokenSubject, tokenScopes)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "Signing secret (env DIGAAS_AUTH_SECRET)")
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", "digaas", "Issuer claim; must match the server's auth.issuer")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "digaasctl", "Subject claim")
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scope", []string{auth.ScopeObserve, auth.ScopeStats}, "Scopes to grant")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the client and server versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("digaasctl %s\n", version)
		c, err := newClient()
		if err != nil {
			return err
		}
		v, err := c.Version(cmd.Context())
		if err != nil {
			fmt.Printf("server: unreachable (%v)\n", err)
			return nil
		}
		fmt.Printf("server: %s %s (%s)\n", v.Service, v.Version, serverURL)
		return nil
	},
}

// parseTime accepts RFC 3339 or Unix epoch seconds.
func parseTime(s string) (time.Time, error) {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		var ts client.Timestamp
		if err := ts.UnmarshalJSON([]byte(strconv.FormatFloat(f, 'f', -1, 64))); err != nil {
			return time.Time{}, err
		}
		return ts.Time, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC 3339 or epoch seconds", s)
	}
	return t, nil
}
