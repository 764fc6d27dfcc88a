package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/marcus-qen/tabops/internal/capability"
	"github.com/marcus-qen/tabops/internal/config"
	"github.com/marcus-qen/tabops/internal/logging"
	"github.com/marcus-qen/tabops/internal/metrics"
	"github.com/marcus-qen/tabops/internal/siteconn"
	"github.com/marcus-qen/tabops/internal/telemetry"
	"github.com/marcus-qen/tabops/internal/tokens"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type cliConfig struct {
	configPath  string
	jsonOutput  bool
	showMetrics bool
}

func main() {
	cli, command, args, err := parseArgs(os.Args[1:])
	if errors.Is(err, errShowUsage) {
		printUsage()
		if len(os.Args) == 1 {
			os.Exit(1)
		}
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(cli.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch command {
	case "sites":
		err = withSession(ctx, cfg, cli, logger, func(s *session) error { return runSites(os.Stdout, s, cli, args) })
	case "switch":
		err = withSession(ctx, cfg, cli, logger, func(s *session) error { return runSwitch(ctx, os.Stdout, s, cli, args) })
	case "cache":
		err = withSession(ctx, cfg, cli, logger, func(s *session) error { return runCache(ctx, os.Stdout, s, cli, args) })
	case "capabilities":
		err = runCapabilities(os.Stdout, cli, args)
	case "role":
		err = runRole(os.Stdout, cli, logger, args)
	case "version":
		fmt.Printf("tabopsctl %s (commit: %s, built: %s)\n", version, commit, date)
		return
	case "help", "--help", "-h":
		printUsage()
	default:
		err = fmt.Errorf("unknown command: %s", command)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var errShowUsage = errors.New("show usage")

func parseArgs(args []string) (cliConfig, string, []string, error) {
	cli := cliConfig{
		configPath: os.Getenv("TABOPS_CONFIG"),
	}

	idx := 0
	for idx < len(args) {
		arg := args[idx]
		if !strings.HasPrefix(arg, "-") {
			break
		}
		switch arg {
		case "--help", "-h":
			return cli, "", nil, errShowUsage
		case "--config", "-c":
			if idx+1 >= len(args) {
				return cli, "", nil, fmt.Errorf("--config requires a value")
			}
			cli.configPath = args[idx+1]
			idx += 2
		case "--json":
			cli.jsonOutput = true
			idx++
		case "--metrics":
			cli.showMetrics = true
			idx++
		default:
			return cli, "", nil, fmt.Errorf("unknown flag: %s", arg)
		}
	}

	if idx >= len(args) {
		return cli, "", nil, errShowUsage
	}

	return cli, args[idx], args[idx+1:], nil
}

func printUsage() {
	fmt.Print(`Usage: tabopsctl [--config <file>] [--json] [--metrics] <command>

Commands:
  sites                          Sign in and list the site directory
  switch <site> [user]           Switch to a site master or impersonated user
  cache [site[/user] ...]        Establish sessions and show the session cache
  capabilities <version> <kind>  List the capabilities of a resource kind
  role <version> <kind> [role]   List roles, or show the grant a role applies
  version                        Show build information

Use "-" as <site> for the default site.

Environment:
  TABOPS_CONFIG, TABOPS_SERVER_URL, TABOPS_USERNAME, TABOPS_PASSWORD, ...
`)
}

// session bundles the live connection and registry for server commands.
type session struct {
	conn     *siteconn.Client
	registry *tokens.Registry
}

func withSession(ctx context.Context, cfg config.Config, cli cliConfig, logger *zap.Logger, fn func(*session) error) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if cfg.HasTracing() {
		shutdown, err := telemetry.InitTraceProvider(ctx, cfg.OTLPEndpoint, version)
		if err != nil {
			return err
		}
		defer func() { _ = shutdown(context.Background()) }()
		logger.Info("tracing enabled", zap.String("endpoint", cfg.OTLPEndpoint))
	}

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return err
	}

	conn, err := siteconn.NewClient(siteconn.Config{
		ServerURL:  cfg.ServerURL,
		APIVersion: cfg.APIVersion,
		Username:   cfg.Username,
		Password:   cfg.Password,
		Site:       cfg.DefaultSite,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		Logger:     logger.Named("siteconn"),
	})
	if err != nil {
		return err
	}
	logger.Debug("site connection created", zap.String("conn_id", conn.ID()), zap.String("server", cfg.ServerURL))
	s := &session{
		conn:     conn,
		registry: tokens.New(tokens.WithLogger(logger), tokens.WithRetryDelay(cfg.RetryDelay)),
	}
	if err := s.registry.Establish(ctx, conn); err != nil {
		return err
	}

	err = fn(s)
	if cli.showMetrics {
		families, gatherErr := reg.Gather()
		if gatherErr != nil {
			return errors.Join(err, gatherErr)
		}
		fmt.Fprintln(os.Stdout)
		RenderMetrics(os.Stdout, families)
	}
	return err
}

func runSites(out io.Writer, s *session, cli cliConfig, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("usage: tabopsctl sites")
	}

	sites := s.registry.Sites()
	if cli.jsonOutput {
		return PrintJSON(out, sites)
	}

	names := make([]string, 0, len(sites))
	for name := range sites {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, []string{siteLabel(name), sites[name]})
	}
	RenderTable(out, []string{"CONTENT URL", "SITE LUID"}, rows)
	fmt.Fprintf(out, "\nTotal: %d sites\n", len(sites))
	return nil
}

type switchResult struct {
	Connection string `json:"connection"`
	Site       string `json:"site"`
	Principal  string `json:"principal,omitempty"`
	UserLUID   string `json:"userLuid"`
	SiteLUID   string `json:"siteLuid"`
	Token      string `json:"token"`
}

func runSwitch(ctx context.Context, out io.Writer, s *session, cli cliConfig, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: tabopsctl switch <site> [user]")
	}
	site := siteArg(args[0])

	var (
		tok       siteconn.Token
		principal string
		err       error
	)
	if len(args) == 2 {
		principal = args[1]
		tok, err = s.registry.SwitchTo(ctx, s.conn, site, principal)
	} else {
		tok, err = s.registry.SwitchToSiteMaster(ctx, s.conn, site)
	}
	if err != nil {
		return err
	}

	res := switchResult{
		Connection: s.conn.ID(),
		Site:       site,
		Principal:  principal,
		UserLUID:   tok.UserLUID,
		SiteLUID:   tok.SiteLUID,
		Token:      tok.Masked(),
	}
	if cli.jsonOutput {
		return PrintJSON(out, res)
	}

	fmt.Fprintf(out, "Site: %s\n", siteLabel(res.Site))
	if res.Principal != "" {
		fmt.Fprintf(out, "Principal: %s\n", res.Principal)
	} else {
		fmt.Fprintln(out, "Principal: (site master)")
	}
	fmt.Fprintf(out, "User LUID: %s\n", res.UserLUID)
	fmt.Fprintf(out, "Site LUID: %s\n", res.SiteLUID)
	fmt.Fprintf(out, "Token: %s\n", res.Token)
	fmt.Fprintf(out, "Connection: %s\n", res.Connection)
	return nil
}

func runCache(ctx context.Context, out io.Writer, s *session, cli cliConfig, args []string) error {
	for _, arg := range args {
		site, principal, _ := strings.Cut(arg, "/")
		site = siteArg(site)
		var err error
		if principal == "" {
			_, err = s.registry.EnsureMasterSession(ctx, s.conn, site)
		} else {
			_, err = s.registry.EnsureUserSession(ctx, s.conn, site, principal)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", arg, err)
		}
	}

	snap := s.registry.Snapshot()
	if cli.jsonOutput {
		return PrintJSON(out, snap)
	}

	rows := make([][]string, 0, len(snap))
	for _, e := range snap {
		principal := e.Principal
		if principal == "" {
			principal = "(master)"
		}
		rows = append(rows, []string{
			siteLabel(e.Site),
			principal,
			Truncate(e.UserLUID, 36),
			e.Token,
			FormatTimeOrDash(e.EstablishedAt),
		})
	}
	RenderTable(out, []string{"SITE", "PRINCIPAL", "USER LUID", "TOKEN", "ESTABLISHED"}, rows)
	fmt.Fprintf(out, "\nTotal: %d sessions\n", len(snap))
	return nil
}

type capabilityRow struct {
	Wire     string `json:"wire"`
	Friendly string `json:"friendly"`
}

func runCapabilities(out io.Writer, cli cliConfig, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: tabopsctl capabilities <version> <kind>")
	}
	names, err := capability.CapabilitiesFor(capability.Version(args[0]), capability.Kind(args[1]))
	if errors.Is(err, capability.ErrUnsupportedVersion) {
		return fmt.Errorf("%w (supported: %s)", err, supportedVersions())
	}
	if err != nil {
		return err
	}

	caps := make([]capabilityRow, 0, len(names))
	for _, wire := range names {
		friendly, err := capability.ToFriendlyName(wire)
		if err != nil {
			friendly = "-"
		}
		caps = append(caps, capabilityRow{Wire: wire, Friendly: friendly})
	}
	if cli.jsonOutput {
		return PrintJSON(out, caps)
	}

	rows := make([][]string, 0, len(caps))
	for _, c := range caps {
		rows = append(rows, []string{c.Wire, c.Friendly})
	}
	RenderTable(out, []string{"CAPABILITY", "FRIENDLY NAME"}, rows)
	return nil
}

func runRole(out io.Writer, cli cliConfig, logger *zap.Logger, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("usage: tabopsctl role <version> <kind> [role]")
	}
	v, k := capability.Version(args[0]), capability.Kind(args[1])

	if len(args) == 2 {
		roles, err := capability.Roles(v, k)
		if err != nil {
			return err
		}
		if cli.jsonOutput {
			return PrintJSON(out, roles)
		}
		for _, r := range roles {
			fmt.Fprintln(out, r)
		}
		return nil
	}

	g, err := capability.NewGrantee(v, k, capability.PrincipalUser, "preview",
		capability.WithLogger(logging.Logr(logger.Named("capability"))))
	if err != nil {
		return err
	}
	if err := g.ApplyRole(args[2]); err != nil {
		return err
	}

	caps := g.Capabilities()
	if cli.jsonOutput {
		modes := make(map[string]string, len(caps))
		for name, m := range caps {
			modes[name] = m.String()
		}
		return PrintJSON(out, modes)
	}

	fmt.Fprintf(out, "Role %s on %s (API %s)\n\n", args[2], g.Kind(), g.Version())
	names := make([]string, 0, len(caps))
	for name := range caps {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, []string{name, ColorMode(caps[name])})
	}
	RenderTable(out, []string{"CAPABILITY", "MODE"}, rows)
	return nil
}

func supportedVersions() string {
	versions := capability.SupportedVersions()
	out := make([]string, 0, len(versions))
	for _, v := range versions {
		out = append(out, string(v))
	}
	return strings.Join(out, ", ")
}

// siteArg maps the "-" placeholder to the default site.
func siteArg(s string) string {
	if s == "-" {
		return ""
	}
	return s
}

func siteLabel(s string) string {
	if s == "" {
		return "(default)"
	}
	return s
}
