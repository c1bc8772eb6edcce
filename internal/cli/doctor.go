package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"cassandra/internal/config"
)

// NewDoctorCmd creates the doctor command.
func NewDoctorCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose the installation",
		Long: `Run diagnostic checks on your Cassandra installation.

This command checks:
- Configuration validity
- The persona file
- Database accessibility
- The model endpoint and credential
- Whether a server is running`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := requireCLIContext(cmd)
			if err != nil {
				return err
			}
			client := &http.Client{Timeout: 5 * time.Second}

			results := []checkResult{
				checkSystemInfo(),
				checkConfig(cliCtx),
				checkPersona(cliCtx.Config),
				checkDatabase(cliCtx),
			}
			if !offline {
				results = append(results, checkModelEndpoint(client, cliCtx.Config))
			}
			results = append(results, checkServer(client, cliCtx.Config))

			return printResults(cmd.OutOrStdout(), results)
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "skip the model endpoint check")

	return cmd
}

const (
	statusOK      = "ok"
	statusWarning = "warning"
	statusError   = "error"
)

type checkResult struct {
	name    string
	status  string
	message string
}

var errChecksFailed = errors.New("some checks failed")

func printResults(out io.Writer, results []checkResult) error {
	failed := false
	for _, r := range results {
		icon := "✓"
		switch r.status {
		case statusWarning:
			icon = "!"
		case statusError:
			icon = "✗"
			failed = true
		}
		fmt.Fprintf(out, "%s %s: %s\n", icon, r.name, r.message)
	}
	if failed {
		return errChecksFailed
	}
	return nil
}

func checkSystemInfo() checkResult {
	return checkResult{
		name:    "System",
		status:  statusOK,
		message: fmt.Sprintf("Go %s on %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
	}
}

func checkConfig(cliCtx *CLIContext) checkResult {
	if err := cliCtx.Config.Validate(); err != nil {
		if errors.Is(err, config.ErrMissingAPIKey) {
			return checkResult{"Config", statusError, "No API key. Run: cassandra init, or set OPENAI_API_KEY"}
		}
		return checkResult{"Config", statusError, err.Error()}
	}
	return checkResult{"Config", statusOK, fmt.Sprintf("%s (model %s)", cliCtx.ConfigPath, cliCtx.Config.Model.Model)}
}

func checkPersona(cfg *config.Config) checkResult {
	text, err := config.LoadPersona(cfg)
	if err != nil {
		return checkResult{"Persona", statusError, err.Error()}
	}
	if strings.TrimSpace(text) == "" {
		return checkResult{"Persona", statusWarning, "persona is empty"}
	}
	return checkResult{"Persona", statusOK, fmt.Sprintf("%d characters", utf8.RuneCountInString(text))}
}

func checkDatabase(cliCtx *CLIContext) checkResult {
	db, err := cliCtx.GetStorage()
	if err != nil {
		return checkResult{"Database", statusError, err.Error()}
	}
	n, err := db.CountSessions(context.Background())
	if err != nil {
		return checkResult{"Database", statusError, err.Error()}
	}
	return checkResult{"Database", statusOK, fmt.Sprintf("%s (%d sessions)", db.Path(), n)}
}

// checkModelEndpoint lists models, which needs a valid key but costs nothing.
func checkModelEndpoint(client *http.Client, cfg *config.Config) checkResult {
	if cfg.Model.APIKey == "" {
		return checkResult{"Model endpoint", statusWarning, "skipped (no API key)"}
	}
	endpoint := strings.TrimRight(cfg.Model.Endpoint, "/")
	if !strings.HasSuffix(endpoint, "/v1") {
		endpoint += "/v1"
	}
	req, err := http.NewRequest(http.MethodGet, endpoint+"/models", nil)
	if err != nil {
		return checkResult{"Model endpoint", statusError, err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+cfg.Model.APIKey)

	resp, err := client.Do(req)
	if err != nil {
		return checkResult{"Model endpoint", statusError, fmt.Sprintf("unreachable: %v", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return checkResult{"Model endpoint", statusOK, endpoint}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return checkResult{"Model endpoint", statusError, fmt.Sprintf("credential rejected (HTTP %d)", resp.StatusCode)}
	default:
		return checkResult{"Model endpoint", statusWarning, fmt.Sprintf("HTTP %d from %s", resp.StatusCode, endpoint)}
	}
}

func checkServer(client *http.Client, cfg *config.Config) checkResult {
	addr := net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port))
	resp, err := client.Get("http://" + addr + "/api/v1/health")
	if err != nil {
		return checkResult{"Server", statusWarning, "Not running. Start with: cassandra serve"}
	}
	defer resp.Body.Close()

	var health struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&health)
	if resp.StatusCode != http.StatusOK {
		return checkResult{"Server", statusWarning, fmt.Sprintf("%s answered HTTP %d", addr, resp.StatusCode)}
	}
	return checkResult{"Server", statusOK, fmt.Sprintf("Running on %s (status: %s)", addr, health.Status)}
}
