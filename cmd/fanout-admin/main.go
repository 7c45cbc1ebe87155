// ABOUTME: Admin CLI for fanout-gateway catalog and credential management
// ABOUTME: Provisions unified servers, refreshes tool catalogs, and mints agent tokens

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/2389/fanout-gateway/internal/catalog"
	"github.com/2389/fanout-gateway/internal/config"
	"github.com/2389/fanout-gateway/internal/connector"
	"github.com/2389/fanout-gateway/internal/credentials"
	"github.com/2389/fanout-gateway/internal/identity"
	"github.com/2389/fanout-gateway/internal/store"
)

const banner = `
  __                         _                  _           _
 / _| __ _ _ __   ___  _   _| |_       __ _  __| |_ __ ___ (_)_ __
| |_ / _' | '_ \ / _ \| | | | __|____ / _' |/ _' | '_ ' _ \| | '_ \
|  _| (_| | | | | (_) | |_| | ||_____| (_| | (_| | | | | | | | | | |
|_|  \__,_|_| |_|\___/ \__,_|\__|     \__,_|\__,_|_| |_| |_|_|_| |_|
`

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "provision":
		err = cmdProvision(ctx, args)
	case "instances":
		err = cmdInstances(ctx, args)
	case "refresh":
		err = cmdRefresh(ctx, args)
	case "token":
		err = cmdToken(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: fanout-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  provision <file.yaml> [--user USER]       Create servers/instances from a YAML file")
	fmt.Println("                                            (copies OAuth tokens for --user where siblings exist)")
	fmt.Println("  instances <unified-server-id>             List instances of a unified server")
	fmt.Println("  refresh <child-server-id> <instance>      Re-introspect an instance's tool catalog")
	fmt.Println("          [--user USER]")
	fmt.Println("  token create --user USER --org ORG        Mint a signed agent token")
	fmt.Println("          [--masking MODE] [--expires DUR]")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  FANOUT_CONFIG            Path to the gateway config file")
}

func openStore() (*config.Config, *store.SQLiteStore, error) {
	configPath := os.Getenv("FANOUT_CONFIG")
	if configPath == "" {
		configPath = "gateway.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	return cfg, s, nil
}

// provisionFile is the YAML shape consumed by the provision command.
type provisionFile struct {
	UnifiedServer struct {
		ID             string   `yaml:"id"`
		Name           string   `yaml:"name"`
		OrganizationID string   `yaml:"organization_id"`
		DynamicSearch  bool     `yaml:"dynamic_search"`
		MaskingMode    string   `yaml:"masking_mode"`
		PIICategories  []string `yaml:"pii_categories"`
	} `yaml:"unified_server"`
	Templates []struct {
		ID            string   `yaml:"id"`
		Name          string   `yaml:"name"`
		Transport     string   `yaml:"transport"`
		Command       string   `yaml:"command"`
		Args          []string `yaml:"args"`
		URL           string   `yaml:"url"`
		DeclaredTools []string `yaml:"declared_tools"`
	} `yaml:"templates"`
	Instances []struct {
		ID            string `yaml:"id"`
		ChildServerID string `yaml:"child_server_id"`
		Name          string `yaml:"name"`
		DisplayOrder  int    `yaml:"display_order"`
		Auth          string `yaml:"auth"`
		TemplateID    string `yaml:"template_id"`
	} `yaml:"instances"`
}

func cmdProvision(ctx context.Context, args []string) error {
	var file, user string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--user":
			if i+1 >= len(args) {
				return fmt.Errorf("--user requires a value")
			}
			user = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--user="):
			user = strings.TrimPrefix(args[i], "--user=")
		case strings.HasPrefix(args[i], "-"):
			return fmt.Errorf("unknown flag: %s", args[i])
		case file == "":
			file = args[i]
		default:
			return fmt.Errorf("unexpected argument: %s", args[i])
		}
	}
	if file == "" {
		return fmt.Errorf("usage: provision <file.yaml> [--user USER]")
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("reading provision file: %w", err)
	}
	var pf provisionFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("parsing provision file: %w", err)
	}
	if pf.UnifiedServer.OrganizationID == "" {
		return fmt.Errorf("unified_server.organization_id is required")
	}

	_, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	srv := &store.UnifiedServer{
		ID:             pf.UnifiedServer.ID,
		Name:           pf.UnifiedServer.Name,
		OrganizationID: pf.UnifiedServer.OrganizationID,
		DynamicSearch:  pf.UnifiedServer.DynamicSearch,
		MaskingMode:    store.MaskingMode(pf.UnifiedServer.MaskingMode),
		PIICategories:  pf.UnifiedServer.PIICategories,
	}
	if srv.ID == "" {
		srv.ID = uuid.New().String()
	}
	if srv.MaskingMode == "" {
		srv.MaskingMode = store.MaskingDisabled
	}

	if _, err := s.GetUnifiedServer(ctx, srv.ID); err != nil {
		if err := s.CreateUnifiedServer(ctx, srv); err != nil {
			return fmt.Errorf("creating unified server: %w", err)
		}
		color.Green("Created unified server %s", srv.ID)
	}

	for _, t := range pf.Templates {
		tpl := &store.ServerTemplate{
			ID:            t.ID,
			Name:          t.Name,
			Transport:     store.TransportKind(t.Transport),
			Command:       t.Command,
			Args:          t.Args,
			URL:           t.URL,
			DeclaredTools: t.DeclaredTools,
		}
		if tpl.ID == "" {
			tpl.ID = uuid.New().String()
		}
		if _, err := s.GetTemplate(ctx, tpl.ID); err == nil {
			continue
		}
		if err := s.CreateTemplate(ctx, tpl); err != nil {
			return fmt.Errorf("creating template %s: %w", tpl.ID, err)
		}
		color.Green("Created template %s", tpl.ID)
	}

	var created []*store.ServerInstance
	for _, in := range pf.Instances {
		inst := &store.ServerInstance{
			ID:              in.ID,
			UnifiedServerID: srv.ID,
			ChildServerID:   in.ChildServerID,
			Name:            in.Name,
			DisplayOrder:    in.DisplayOrder,
			AuthKind:        store.AuthKind(in.Auth),
			OrganizationID:  srv.OrganizationID,
			TemplateID:      in.TemplateID,
		}
		if inst.ID == "" {
			inst.ID = uuid.New().String()
		}
		if inst.AuthKind == "" {
			inst.AuthKind = store.AuthNone
		}
		if err := s.CreateInstance(ctx, inst); err != nil {
			return fmt.Errorf("creating instance %s: %w", inst.Name, err)
		}
		created = append(created, inst)
		color.Green("Created instance %s (%s)", inst.Name, inst.ID)
	}

	if user != "" && len(created) > 0 {
		provider := credentials.NewProvider(s, s, slog.Default())
		copied, err := provider.CopyTokensForNewInstances(ctx, user, created)
		if err != nil {
			return fmt.Errorf("copying tokens: %w", err)
		}
		fmt.Printf("Copied %d OAuth token(s) for %s\n", copied, user)
	}

	return nil
}

func cmdInstances(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: instances <unified-server-id>")
	}

	_, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	instances, err := s.ListInstances(ctx, args[0])
	if err != nil {
		return fmt.Errorf("listing instances: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCHILD SERVER\tAUTH\tTEMPLATE\tORDER")
	for _, inst := range instances {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			inst.Name, inst.ChildServerID, inst.AuthKind, inst.TemplateID, inst.DisplayOrder)
	}
	return w.Flush()
}

func cmdRefresh(ctx context.Context, args []string) error {
	var positional []string
	var user string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--user":
			if i+1 >= len(args) {
				return fmt.Errorf("--user requires a value")
			}
			user = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--user="):
			user = strings.TrimPrefix(args[i], "--user=")
		case strings.HasPrefix(args[i], "-"):
			return fmt.Errorf("unknown flag: %s", args[i])
		default:
			positional = append(positional, args[i])
		}
	}
	if len(positional) != 2 {
		return fmt.Errorf("usage: refresh <child-server-id> <instance> [--user USER]")
	}
	childServerID, instanceName := positional[0], positional[1]

	cfg, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	detail, err := s.GetInstanceDetail(ctx, childServerID, instanceName)
	if err != nil {
		return fmt.Errorf("loading instance: %w", err)
	}

	provider := credentials.NewProvider(s, s, slog.Default())
	headers, err := provider.ResolveHeaders(ctx, detail.Instance.ID, user, detail.Instance.OrganizationID, detail.Instance.AuthKind)
	if err != nil {
		return fmt.Errorf("resolving credentials: %w", err)
	}
	var env []string
	if detail.Template.Transport == store.TransportStdio {
		env = provider.ResolveEnv(ctx, detail.Instance.ID, user, detail.Instance.OrganizationID)
	}

	dialer := &connector.MCPDialer{ClientName: "fanout-admin", ClientVersion: "1.0.0"}
	conn := connector.New(dialer, connector.NewPool(), cfg.Connector.MaxAttempts, cfg.Connector.RetryDelay, slog.Default())
	refresher := catalog.NewRefresher(s, conn, slog.Default())

	diff, err := refresher.Refresh(ctx, detail, headers, env)
	if err != nil {
		return fmt.Errorf("refreshing catalog: %w", err)
	}

	if diff.Empty() {
		fmt.Println("Catalog unchanged.")
		return nil
	}
	for _, name := range diff.Added {
		color.Green("+ %s", name)
	}
	for _, name := range diff.Removed {
		color.Red("- %s", name)
	}
	for _, name := range diff.Modified {
		color.Yellow("~ %s", name)
	}
	return nil
}

func cmdToken(args []string) error {
	if len(args) < 1 || args[0] != "create" {
		return fmt.Errorf("usage: token create --user USER --org ORG [--masking MODE] [--expires DUR]")
	}

	var user, org, maskingMode string
	expires := 24 * time.Hour
	flagArgs := args[1:]
	for i := 0; i < len(flagArgs); i++ {
		value := func() (string, error) {
			if i+1 >= len(flagArgs) {
				return "", fmt.Errorf("%s requires a value", flagArgs[i])
			}
			i++
			return flagArgs[i], nil
		}
		var err error
		switch flagArgs[i] {
		case "--user":
			user, err = value()
		case "--org":
			org, err = value()
		case "--masking":
			maskingMode, err = value()
		case "--expires":
			var raw string
			if raw, err = value(); err == nil {
				expires, err = time.ParseDuration(raw)
			}
		default:
			err = fmt.Errorf("unknown flag: %s", flagArgs[i])
		}
		if err != nil {
			return err
		}
	}
	if user == "" || org == "" {
		return fmt.Errorf("--user and --org are required")
	}

	cfg, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	id := &identity.Identity{
		UserID:         user,
		OrganizationID: org,
		MaskingMode:    store.MaskingMode(maskingMode),
	}

	token, err := identity.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(id, expires)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}
