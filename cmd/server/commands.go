package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/auditcore/audit-service/internal/auth"
	"github.com/auditcore/audit-service/internal/config"
	"github.com/auditcore/audit-service/internal/telemetry"
)

// runPurge archives (when enabled) and deletes entries older than --before. It goes
// through the same retention service as the background job and the HTTP endpoint, so
// the MAINTENANCE follow-up entry is recorded the same way.
func runPurge(cfg *config.Config, args []string) error {
	fs := pflag.NewFlagSet("purge", pflag.ContinueOnError)
	before := fs.String("before", "", "delete entries older than this RFC3339 timestamp (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cutoff, err := parsePurgeCutoff(*before, time.Now())
	if err != nil {
		return err
	}

	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level, cfg.Telemetry.ServiceName)

	ctx := context.Background()
	svc, err := buildServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := svc.runner.Run(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge failed: %w", err)
	}

	fmt.Printf("Deleted %d audit logs before %s\n", res.Deleted, cutoff.Format(time.RFC3339))
	if res.Archive != nil {
		fmt.Printf("Archived %d entries to %s (sha256 %s)\n", res.Archive.Entries, res.Archive.Path, res.Archive.Checksum)
	}
	return nil
}

func parsePurgeCutoff(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("usage: purge --before <RFC3339 timestamp>")
	}
	cutoff, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --before %q: %w", raw, err)
	}
	if cutoff.After(now) {
		return time.Time{}, fmt.Errorf("--before %s is in the future", raw)
	}
	return cutoff.UTC(), nil
}

// runToken mints a JWT signed with AUDIT_JWT_SECRET, for local testing of the API.
func runToken(args []string) error {
	fs := pflag.NewFlagSet("token", pflag.ContinueOnError)
	subject := fs.String("sub", "", "actor id (required)")
	name := fs.String("name", "", "actor display name")
	scopes := fs.StringSlice("scopes", []string{string(auth.ScopeAuditRead)}, "comma-separated scopes")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return fmt.Errorf("usage: token --sub <actor id> [--name <name>] [--scopes audit:read,...] [--ttl 1h]")
	}
	if err := auth.ValidateScopes(*scopes); err != nil {
		return err
	}
	if err := auth.ValidateJWTSecret(); err != nil {
		return err
	}

	token, err := auth.GenerateJWT(*subject, *name, *scopes, *ttl)
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}
	fmt.Println(token)
	return nil
}

// runAPIKey generates a service API key and prints the config block that enables it.
// The key itself is shown once; only its bcrypt hash goes into the configuration.
func runAPIKey(args []string) error {
	fs := pflag.NewFlagSet("apikey", pflag.ContinueOnError)
	name := fs.String("name", "", "service name (required)")
	scopes := fs.StringSlice("scopes", []string{string(auth.ScopeAuditWrite)}, "comma-separated scopes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("usage: apikey --name <service> [--scopes audit:write,...]")
	}
	if err := auth.ValidateScopes(*scopes); err != nil {
		return err
	}

	key, hash, _, err := auth.GenerateAPIKey("audit")
	if err != nil {
		return err
	}
	writeAPIKeyConfig(os.Stdout, *name, key, hash, *scopes)
	return nil
}

func writeAPIKeyConfig(w io.Writer, name, key, hash string, scopes []string) {
	fmt.Fprintf(w, "API key (store it now, it is not shown again):\n  %s\n\n", key)
	fmt.Fprintln(w, "Add to config.yaml:")
	fmt.Fprintln(w, "auth:")
	fmt.Fprintln(w, "  api_keys:")
	fmt.Fprintf(w, "    - name: %s\n", name)
	fmt.Fprintf(w, "      hash: %q\n", hash)
	fmt.Fprintf(w, "      scopes: [%s]\n", strings.Join(scopes, ", "))
}
