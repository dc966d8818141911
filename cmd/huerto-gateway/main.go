// ABOUTME: Entry point for huerto-gateway, the storefront authentication gateway
// ABOUTME: Provides serve, init, bootstrap, hash-password, check-rules and health commands

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/2389/huerto-gateway/internal/account"
	"github.com/2389/huerto-gateway/internal/auth"
	"github.com/2389/huerto-gateway/internal/config"
	"github.com/2389/huerto-gateway/internal/gateway"
	"github.com/2389/huerto-gateway/internal/store"
	"github.com/2389/huerto-gateway/internal/telemetry"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

const banner = `
 _                     _                           _
| |__  _   _  ___ _ __| |_ ___         __ _  __ _| |_ _____      ____ _ _   _
| '_ \| | | |/ _ \ '__| __/ _ \ _____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| | | | |_| |  __/ |  | || (_) |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
|_| |_|\__,_|\___|_|   \__\___/       \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                                      |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: HUERTO_CONFIG env var > XDG_CONFIG_HOME/huerto/gateway.yaml > ~/.config/huerto/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("HUERTO_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "huerto", "gateway.yaml")
}

// getDataPath returns the path to the huerto data directory.
// Priority: XDG_DATA_HOME/huerto > ~/.local/share/huerto
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "huerto")
}

func usage() {
	fmt.Println("Usage: huerto-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                              Start the gateway server")
	fmt.Println("  init                               Create a new config file interactively")
	fmt.Println("  bootstrap --email EMAIL [--role R] Create the first principal and a token")
	fmt.Println("  hash-password                      Print a bcrypt hash for a password")
	fmt.Println("  check-rules                        Print the rule table and report shadowed rules")
	fmt.Println("  health                             Check gateway readiness")
	fmt.Println("  version                            Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "bootstrap":
		err = runBootstrap(ctx, os.Args[2:])
	case "hash-password":
		err = runHashPassword()
	case "check-rules":
		err = runCheckRules(os.Stdout)
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing, version)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flushing traces", "error", err)
		}
	}()

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Driver)
	green.Print("    ▶ ")
	if cfg.Upstream.URL != "" {
		fmt.Printf("Upstream:  %s\n", cfg.Upstream.URL)
	} else {
		fmt.Print("Upstream:  ")
		yellow.Println("none (unmatched routes return 404)")
	}
	if !cfg.Mail.Enabled {
		green.Print("    ▶ ")
		fmt.Print("Mail:      ")
		yellow.Println("disabled")
	}

	// Tailscale status
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting huerto-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println("healthy")
	return nil
}

// runCheckRules prints the effective rule table and fails if any rule is
// unreachable.
func runCheckRules(w io.Writer) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	return checkRules(w, cfg.Auth)
}

func checkRules(w io.Writer, a config.AuthConfig) error {
	rules, err := a.PolicyRules()
	if err != nil {
		return err
	}
	shadows, err := auth.Shadowed(rules)
	if err != nil {
		return err
	}

	shadowedBy := make(map[int]int, len(shadows))
	for _, s := range shadows {
		shadowedBy[s.Rule] = s.ShadowedBy
	}

	red := color.New(color.FgRed)
	for i, r := range rules {
		fmt.Fprintf(w, "%3d  %s", i, r)
		if by, ok := shadowedBy[i]; ok {
			red.Fprintf(w, "  <- unreachable, shadowed by rule %d", by)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "     * %s (no rule matched)\n", auth.Authenticated())

	if len(shadows) > 0 {
		return fmt.Errorf("%w: %d rule(s) can never match", auth.ErrShadowedRule, len(shadows))
	}
	return nil
}

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// promptPassword reads a password without echo when stdin is a terminal,
// or a single line from stdin otherwise.
func promptPassword(label string, confirm bool) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Printf("%s: ", label)
	pw, err := readPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	if confirm {
		fmt.Printf("Confirm %s: ", strings.ToLower(label))
		again, err := readPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		if string(again) != string(pw) {
			return "", errors.New("passwords do not match")
		}
	}
	return string(pw), nil
}

func runHashPassword() error {
	password, err := promptPassword("Password", true)
	if err != nil {
		return err
	}
	if err := account.ValidatePassword(password); err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

// parseFlags parses "--name value" and "--name=value" pairs for the given
// flag names. Short aliases map to their long names.
func parseFlags(args []string, aliases map[string]string) (map[string]string, error) {
	out := make(map[string]string)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			return nil, fmt.Errorf("unexpected argument: %s", arg)
		}
		name, value, hasValue := strings.Cut(arg, "=")
		long, ok := aliases[name]
		if !ok {
			return nil, fmt.Errorf("unknown flag: %s", name)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%s requires a value", long)
			}
			value = args[i+1]
			i++
		}
		out[long] = value
	}
	return out, nil
}

// generateSecret returns a random base64 JWT secret.
func generateSecret() (string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(secretBytes), nil
}

// writeConfig writes cfg to path with owner-only permissions since it
// carries the signing secret.
func writeConfig(path string, cfg *config.Config, header string) error {
	data, err := cfg.Marshal(path)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(path, append([]byte(header), data...), 0600)
}

// runBootstrap performs first-time setup of the gateway:
// 1. Creates config file with random JWT secret (if not exists)
// 2. Creates database and the first principal (admin unless --role says otherwise)
// 3. Mints a token for it
func runBootstrap(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, map[string]string{
		"--email": "--email", "-e": "--email",
		"--name": "--name", "-n": "--name",
		"--role": "--role", "-r": "--role",
		"--password": "--password",
	})
	if err != nil {
		return err
	}

	role := store.RoleAdmin
	if raw, ok := flags["--role"]; ok {
		if role, err = store.ParseRole(raw); err != nil {
			return err
		}
	}

	email := store.NormalizeEmail(flags["--email"])
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("--email flag is required")
	}
	displayName := strings.TrimSpace(flags["--name"])
	if len(displayName) > 100 {
		return fmt.Errorf("display name exceeds maximum length of 100 characters")
	}

	configPath := getConfigPath()
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := config.Default(getDataPath())
		if cfg.Auth.JWTSecret, err = generateSecret(); err != nil {
			return err
		}
		if err := writeConfig(configPath, cfg, "# huerto-gateway configuration\n# Generated by huerto-gateway bootstrap\n\n"); err != nil {
			return err
		}
		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	source := cfg.Database.Path
	if store.Driver(cfg.Database.Driver) == store.DriverPostgres {
		source = cfg.Database.DSN
	}
	s, err := store.Open(ctx, store.Driver(cfg.Database.Driver), source)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	green.Printf("  ✓ Database: %s\n", cfg.Database.Driver)

	existing, err := s.ListPrincipals(ctx)
	if err != nil {
		return fmt.Errorf("checking principals: %w", err)
	}
	if len(existing) > 0 {
		return fmt.Errorf("bootstrap already complete: %d principal(s) exist", len(existing))
	}

	password, ok := flags["--password"]
	if !ok {
		if password, err = promptPassword("Password", true); err != nil {
			return err
		}
	}
	if err := account.ValidatePassword(password); err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	principal := &store.Principal{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		DisplayName:  displayName,
	}
	if err := s.CreatePrincipal(ctx, principal); err != nil {
		return fmt.Errorf("creating principal: %w", err)
	}
	green.Printf("  ✓ Created %s principal: %s\n", role, email)

	codec, err := auth.NewCodec([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("creating token codec: %w", err)
	}
	token, err := codec.Mint(principal.Email, principal.Role, time.Now())
	if err != nil {
		return fmt.Errorf("minting token: %w", err)
	}

	// Save token to file for CLI tools to read
	tokenPath := filepath.Join(filepath.Dir(configPath), "token")
	if err := os.WriteFile(tokenPath, []byte(token.Raw), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	green.Printf("  ✓ Saved token: %s\n", tokenPath)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  Principal")
	cyan.Println("  ---------")
	fmt.Printf("  ID:      %s\n", principal.ID)
	fmt.Printf("  Email:   %s\n", principal.Email)
	fmt.Printf("  Role:    %s\n", principal.Role)
	fmt.Printf("  Token:   %s (expires %s)\n", tokenPath, token.ExpiresAt.Format("Jan 02, 2006 15:04"))
	fmt.Println()

	yellow.Println("  Ready to go:")
	fmt.Println("    huerto-gateway serve         # start the gateway")
	fmt.Println("    huerto-gateway check-rules   # review the authorization table")
	fmt.Println()

	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("huerto-gateway configuration setup")
	fmt.Println("==================================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path (.yaml or .toml)", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	cfg := config.Default(getDataPath())

	fmt.Println("\n--- Server Configuration ---")
	cfg.Server.HTTPAddr = prompt(reader, "HTTP address", cfg.Server.HTTPAddr)
	cfg.Server.GRPCAddr = prompt(reader, "gRPC address (empty to disable)", "")
	cfg.Upstream.URL = prompt(reader, "Upstream API URL (empty for none)", "http://localhost:8081")

	fmt.Println("\n--- Database Configuration ---")
	cfg.Database.Driver = prompt(reader, "Driver (sqlite/postgres)", cfg.Database.Driver)
	if store.Driver(cfg.Database.Driver) == store.DriverPostgres {
		cfg.Database.DSN = prompt(reader, "PostgreSQL DSN", "postgres://huerto@localhost:5432/huerto?sslmode=disable")
		cfg.Recovery.Backend = prompt(reader, "Recovery code backend (memory/database)", "database")
	} else {
		cfg.Database.Path = prompt(reader, "SQLite database path", cfg.Database.Path)
	}

	fmt.Println("\n--- Mail Configuration ---")
	if yes(prompt(reader, "Send recovery codes by SMTP?", "no")) {
		cfg.Mail.Enabled = true
		cfg.Mail.Host = prompt(reader, "SMTP host", "smtp.gmail.com")
		cfg.Mail.Username = prompt(reader, "SMTP username", "")
		cfg.Mail.Password = "${HUERTO_SMTP_PASSWORD}"
		cfg.Mail.From = prompt(reader, "From address", cfg.Mail.Username)
	}

	fmt.Println("\n--- Tailscale Configuration ---")
	if yes(prompt(reader, "Enable Tailscale?", "no")) {
		cfg.Tailscale.Enabled = true
		cfg.Tailscale.Hostname = prompt(reader, "Tailscale hostname", "huerto-gateway")
		cfg.Tailscale.AuthKey = prompt(reader, "Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
		cfg.Tailscale.Ephemeral = yes(prompt(reader, "Ephemeral node?", "no"))
		cfg.Tailscale.Funnel = yes(prompt(reader, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Println("\n--- Logging Configuration ---")
	cfg.Logging.Level = prompt(reader, "Log level (debug/info/warn/error)", cfg.Logging.Level)
	cfg.Logging.Format = prompt(reader, "Log format (text/json)", cfg.Logging.Format)

	secret, err := generateSecret()
	if err != nil {
		return err
	}
	cfg.Auth.JWTSecret = secret

	if err := writeConfig(outputFile, cfg, "# huerto-gateway configuration\n# Generated by huerto-gateway init\n\n"); err != nil {
		return err
	}

	if cfg.Database.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nNext steps:")
	fmt.Println("  huerto-gateway bootstrap --email you@example.com")
	fmt.Println("  huerto-gateway serve")

	return nil
}

func yes(answer string) bool {
	answer = strings.ToLower(answer)
	return answer == "yes" || answer == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
