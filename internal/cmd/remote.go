package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/3leaps/adfanout/internal/config"
	"github.com/3leaps/adfanout/pkg/apiclient"
	"github.com/3leaps/adfanout/pkg/jobregistry"
)

// resolveServerURL picks the server for remote commands: --server, then
// <PREFIX>_SERVER, then http://server.host:server.port from config.
func resolveServerURL(ctx context.Context) (string, error) {
	if s := strings.TrimSpace(serverURL); s != "" {
		return s, nil
	}
	if s := strings.TrimSpace(os.Getenv(config.Identity().EnvPrefix + "_SERVER")); s != "" {
		return s, nil
	}
	cfg, err := loadConfig(ctx)
	if err != nil {
		return "", err
	}
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port)), nil
}

func newAPIClient(ctx context.Context) (*apiclient.Client, error) {
	base, err := resolveServerURL(ctx)
	if err != nil {
		return nil, err
	}
	client, err := apiclient.New(base)
	if err != nil {
		return nil, withExitCode(ExitUsage, err)
	}
	return client, nil
}

func adminToken() string {
	return strings.TrimSpace(os.Getenv(config.Identity().EnvPrefix + "_ADMIN_TOKEN"))
}

func newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}

func formatOptionalTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// resolveJobID accepts a full job id or a unique prefix of one (as shown
// in table output).
func resolveJobID(jobs []jobregistry.JobRecord, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("job_id is required")
	}

	for _, j := range jobs {
		if j.JobID == input {
			return input, nil
		}
	}

	var matches []string
	for _, j := range jobs {
		if strings.HasPrefix(j.JobID, input) {
			matches = append(matches, j.JobID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("job not found: %s", input)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("job id prefix is ambiguous (%d matches); use full job_id or --json", len(matches))
	}
}

// remoteJobID resolves input against the server's job list.
func remoteJobID(ctx context.Context, client *apiclient.Client, input string) (string, error) {
	if _, err := client.GetJob(ctx, input); err == nil {
		return input, nil
	}
	jobs, err := client.ListJobs(ctx, "", 0)
	if err != nil {
		return "", err
	}
	return resolveJobID(jobs, input)
}
