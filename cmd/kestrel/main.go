package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kestrelsec/kestrel/pkg/client"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	apiToken  string
	cfgFile   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kestrel",
	Short: "Kestrel threat detection CLI",
	Long: `kestrel is the command-line interface for the Kestrel threat
detection service.

It runs detection cycles and manages threats, devices, and sessions
against a Kestrel server.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.kestrel")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if apiToken == "" {
			apiToken = viper.GetString("token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.kestrel/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Kestrel server URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", "", "Bearer token for authenticated requests")

	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(threatsCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() *client.Client {
	opts := []client.Option{}
	if apiToken != "" {
		opts = append(opts, client.WithBearerToken(apiToken))
	}
	return client.New(serverURL, opts...)
}

// ── detect ───────────────────────────────────────────────────────────────────

var (
	detectUser            string
	detectLoginAttempts   int
	detectFailedAttempts  int
	detectLocationChanges int
	detectDeviceChanges   int
	detectDeviceID        string
	detectIP              string
	detectLocation        string
	detectUserAgent       string
	detectSessionID       string
	detectAnomalies       []string
	detectRespond         bool
	detectPersist         bool
	detectFormat          string
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Run a detection cycle for a user account",
	Long: `Detect runs one threat detection cycle. Signals are optional; an
extractor only runs for the signals you supply:

  kestrel detect --user user-123 --failed-attempts 7
  kestrel detect --user user-123 --device-id dev-9 --respond
  kestrel detect --user user-123 --session-id s-1 --anomaly ip_change --anomaly impossible_travel`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := client.DetectRequest{
			UserID:                 detectUser,
			EnableRealTimeResponse: detectRespond,
			Persist:                detectPersist,
		}
		if cmd.Flags().Changed("login-attempts") || cmd.Flags().Changed("failed-attempts") ||
			cmd.Flags().Changed("location-changes") || cmd.Flags().Changed("device-changes") {
			req.Behavior = &client.BehaviorSignal{
				LoginAttempts:   detectLoginAttempts,
				FailedAttempts:  detectFailedAttempts,
				LocationChanges: detectLocationChanges,
				DeviceChanges:   detectDeviceChanges,
			}
		}
		if detectDeviceID != "" {
			req.Device = &client.DeviceSignal{
				DeviceID:  detectDeviceID,
				IPAddress: detectIP,
				Location:  detectLocation,
				UserAgent: detectUserAgent,
			}
		}
		if detectSessionID != "" {
			req.Session = &client.SessionSignal{
				SessionID: detectSessionID,
				Anomalies: detectAnomalies,
			}
		}

		res, persisted, err := newClient().Detect(context.Background(), req)
		if err != nil {
			return err
		}

		if detectFormat == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}

		fmt.Printf("Overall level: %s\n", res.OverallLevel)
		if len(res.Findings) == 0 {
			fmt.Println("No threats detected.")
		} else {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SEVERITY\tTYPE\tTITLE")
			for _, f := range res.Findings {
				fmt.Fprintf(w, "%s\t%s\t%s\n", f.Severity, f.Type, f.Title)
			}
			if err := w.Flush(); err != nil {
				return err
			}
		}
		if len(res.ImmediateActions) > 0 {
			fmt.Println("\nImmediate actions:")
			for _, a := range res.ImmediateActions {
				fmt.Printf("  - %s\n", a)
			}
		}
		fmt.Println("\nRecommendations:")
		for _, r := range res.Recommendations {
			fmt.Printf("  - %s\n", r)
		}
		if res.Meta.AutoResponseTriggered {
			outcome := "clean"
			if !res.Meta.AutoResponseClean {
				outcome = "degraded"
			}
			fmt.Printf("\nAuto-response: triggered (%s)\n", outcome)
		}
		if persisted {
			fmt.Println("Findings persisted.")
		}
		return nil
	},
}

func init() {
	detectCmd.Flags().StringVar(&detectUser, "user", "", "User ID to evaluate (required)")
	detectCmd.Flags().IntVar(&detectLoginAttempts, "login-attempts", 0, "Recent login attempts")
	detectCmd.Flags().IntVar(&detectFailedAttempts, "failed-attempts", 0, "Recent failed login attempts")
	detectCmd.Flags().IntVar(&detectLocationChanges, "location-changes", 0, "Recent location changes")
	detectCmd.Flags().IntVar(&detectDeviceChanges, "device-changes", 0, "Recent device changes")
	detectCmd.Flags().StringVar(&detectDeviceID, "device-id", "", "Device fingerprint presented on the request")
	detectCmd.Flags().StringVar(&detectIP, "ip", "", "Request IP address")
	detectCmd.Flags().StringVar(&detectLocation, "location", "", "Request location")
	detectCmd.Flags().StringVar(&detectUserAgent, "user-agent", "", "Request user agent")
	detectCmd.Flags().StringVar(&detectSessionID, "session-id", "", "Active session ID")
	detectCmd.Flags().StringArrayVar(&detectAnomalies, "anomaly", nil, "Session anomaly (repeatable)")
	detectCmd.Flags().BoolVar(&detectRespond, "respond", false, "Enable automated remediation")
	detectCmd.Flags().BoolVar(&detectPersist, "persist", false, "Persist findings for later review")
	detectCmd.Flags().StringVar(&detectFormat, "format", "text", "Output format: text or json")
	_ = detectCmd.MarkFlagRequired("user")
}

// ── threats ──────────────────────────────────────────────────────────────────

var (
	threatsUser     string
	threatsResolved string
	threatsLimit    int
)

var threatsCmd = &cobra.Command{
	Use:   "threats",
	Short: "List, inspect, and resolve persisted threats",
}

var threatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted threats for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resolved *bool
		switch threatsResolved {
		case "":
		case "true", "false":
			b := threatsResolved == "true"
			resolved = &b
		default:
			return fmt.Errorf("--resolved must be true or false")
		}

		threats, err := newClient().ListThreats(context.Background(), threatsUser, resolved, threatsLimit, 0)
		if err != nil {
			return err
		}
		if len(threats) == 0 {
			fmt.Println("No threats found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSEVERITY\tTYPE\tRESOLVED\tDETECTED")
		for _, t := range threats {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n",
				t.ID, t.Severity, t.Type, t.Resolved, t.DetectedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var threatsResolveCmd = &cobra.Command{
	Use:   "resolve <threat-id>",
	Short: "Mark a persisted threat resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().ResolveThreat(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Threat %s resolved.\n", args[0])
		return nil
	},
}

var threatsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show unresolved threat counts by severity",
	RunE: func(cmd *cobra.Command, args []string) error {
		counts, err := newClient().ThreatSummary(context.Background(), threatsUser)
		if err != nil {
			return err
		}
		if len(counts) == 0 {
			fmt.Println("No unresolved threats.")
			return nil
		}
		for _, sev := range []string{"CRITICAL", "HIGH", "MEDIUM", "LOW"} {
			if n, ok := counts[sev]; ok {
				fmt.Printf("%-10s %d\n", sev, n)
			}
		}
		return nil
	},
}

func init() {
	threatsCmd.PersistentFlags().StringVar(&threatsUser, "user", "", "User ID (required for list/summary)")
	threatsListCmd.Flags().StringVar(&threatsResolved, "resolved", "", "Filter by resolution state: true or false")
	threatsListCmd.Flags().IntVar(&threatsLimit, "limit", 50, "Maximum threats to list")

	threatsCmd.AddCommand(threatsListCmd)
	threatsCmd.AddCommand(threatsResolveCmd)
	threatsCmd.AddCommand(threatsSummaryCmd)
}

// ── devices ──────────────────────────────────────────────────────────────────

var (
	devicesUser   string
	devName       string
	devUserAgent  string
	devTrusted    bool
	devJailbroken bool
	devScreenLock bool
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Manage a user's registered devices",
}

var devicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's registered devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := newClient().ListDevices(context.Background(), devicesUser)
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Println("No devices registered.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTRUSTED\tJAILBROKEN\tLAST ACTIVITY")
		for _, d := range devices {
			fmt.Fprintf(w, "%s\t%s\t%v\t%v\t%s\n",
				d.ID, d.Name, d.Trusted, d.SecurityStatus.Jailbroken,
				d.LastActivity.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var devicesRegisterCmd = &cobra.Command{
	Use:   "register <device-id>",
	Short: "Register or update a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newClient().RegisterDevice(context.Background(), devicesUser, client.RegisterDeviceRequest{
			ID:                args[0],
			Name:              devName,
			UserAgent:         devUserAgent,
			Trusted:           devTrusted,
			Jailbroken:        devJailbroken,
			ScreenLockEnabled: devScreenLock,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Device %s registered (trusted: %v).\n", d.ID, d.Trusted)
		return nil
	},
}

var devicesRevokeCmd = &cobra.Command{
	Use:   "revoke-trust <device-id>",
	Short: "Mark a device untrusted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().RevokeDeviceTrust(context.Background(), devicesUser, args[0]); err != nil {
			return err
		}
		fmt.Printf("Trust revoked for device %s.\n", args[0])
		return nil
	},
}

func init() {
	devicesCmd.PersistentFlags().StringVar(&devicesUser, "user", "", "User ID (required)")
	devicesRegisterCmd.Flags().StringVar(&devName, "name", "", "Device display name")
	devicesRegisterCmd.Flags().StringVar(&devUserAgent, "user-agent", "", "Device user agent")
	devicesRegisterCmd.Flags().BoolVar(&devTrusted, "trusted", true, "Mark the device trusted")
	devicesRegisterCmd.Flags().BoolVar(&devJailbroken, "jailbroken", false, "Device is jailbroken or rooted")
	devicesRegisterCmd.Flags().BoolVar(&devScreenLock, "screen-lock", true, "Device has a screen lock enabled")

	devicesCmd.AddCommand(devicesListCmd)
	devicesCmd.AddCommand(devicesRegisterCmd)
	devicesCmd.AddCommand(devicesRevokeCmd)
}

// ── sessions ─────────────────────────────────────────────────────────────────

var sessionsUser string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage a user's active sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's active sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := newClient().ListSessions(context.Background(), sessionsUser)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No active sessions.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tIP\tLOCATION\tCREATED\tLAST SEEN")
		for _, s := range sessions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				s.ID, s.IPAddress, s.Location,
				s.CreatedAt.Format("2006-01-02 15:04"),
				s.LastSeen.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var sessionsTerminateCmd = &cobra.Command{
	Use:   "terminate <session-id>",
	Short: "Terminate a single session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().TerminateSession(context.Background(), sessionsUser, args[0]); err != nil {
			return err
		}
		fmt.Printf("Session %s terminated.\n", args[0])
		return nil
	},
}

var sessionsTerminateAllCmd = &cobra.Command{
	Use:   "terminate-all",
	Short: "Terminate every session for the account",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := newClient().TerminateAllSessions(context.Background(), sessionsUser)
		if err != nil {
			return err
		}
		fmt.Printf("Terminated %d session(s).\n", n)
		return nil
	},
}

func init() {
	sessionsCmd.PersistentFlags().StringVar(&sessionsUser, "user", "", "User ID (required)")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsTerminateCmd)
	sessionsCmd.AddCommand(sessionsTerminateAllCmd)
}

// ── audit ────────────────────────────────────────────────────────────────────

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the response audit chain",
}

var auditShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the audit chain length and root hash",
	RunE: func(cmd *cobra.Command, args []string) error {
		ov, err := newClient().GetAuditOverview(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Entries: %d\n", ov.Entries)
		fmt.Printf("Root:    %s\n", ov.Root)
		return nil
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the integrity of the audit chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		valid, reason, err := newClient().VerifyAudit(context.Background())
		if err != nil {
			return err
		}
		if !valid {
			return fmt.Errorf("audit chain INVALID: %s", reason)
		}
		fmt.Println("Audit chain verified.")
		return nil
	},
}

func init() {
	auditCmd.AddCommand(auditShowCmd)
	auditCmd.AddCommand(auditVerifyCmd)
}

// ── token ────────────────────────────────────────────────────────────────────

var (
	tokenSecret   string
	tokenUser     string
	tokenOperator bool
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Exchange the API secret for a bearer token",
	Long: `Token obtains a bearer token from the server's static API secret.
Pass --user for an account-scoped token, or --operator for a
cross-account token:

  kestrel token --secret $KESTREL_API_SECRET --user user-123
  kestrel token --secret $KESTREL_API_SECRET --operator`,
	RunE: func(cmd *cobra.Command, args []string) error {
		role := ""
		if tokenOperator {
			role = "operator"
		} else if tokenUser == "" {
			return fmt.Errorf("either --user or --operator is required")
		}

		tok, err := newClient().IssueToken(context.Background(), tokenSecret, tokenUser, role)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "Server API secret (required)")
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "User ID the token is scoped to")
	tokenCmd.Flags().BoolVar(&tokenOperator, "operator", false, "Request a cross-account operator token")
	_ = tokenCmd.MarkFlagRequired("secret")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("kestrel %s\n", strings.TrimSpace(version))
	},
}
