// Package cmd implements the adfanout command line.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/adfanout/internal/config"
	apperrors "github.com/3leaps/adfanout/internal/errors"
	"github.com/3leaps/adfanout/internal/observability"
	"github.com/3leaps/adfanout/internal/server/handlers"
)

// Process exit codes.
const (
	ExitSuccess                    = 0
	ExitFailure                    = 1
	ExitUsage                      = 2
	ExitConfigInvalid              = 3
	ExitJobFailed                  = 4
	ExitExternalServiceUnavailable = 5
	ExitFileNotFound               = 6
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

var (
	cfgFile     string
	verbose     bool
	serverURL   string
	appIdentity *config.AppIdentity
)

var rootCmd = &cobra.Command{
	Use:   "adfanout",
	Short: "Bulk ad creation from one template and many media items",
	Long: `adfanout turns one ad template and a list of media items into a campaign,
an ad set and one ad per item on the ads platform.

Run 'adfanout serve' for the HTTP API, or 'adfanout run' to process a single
request in-process with JSONL progress on stdout.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		initIdentity()
		observability.InitCLILogger(appIdentity.BinaryName, verbose)
		if cfgFile != "" {
			config.SetConfigFile(cfgFile)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ExitWithCode(observability.CLILogger, exitCodeFor(err), "Command failed", err)
	}
}

func init() {
	setDefaults()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: search ./config, $XDG_CONFIG_HOME/adfanout, ~/.adfanout)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "adfanout server URL for remote commands (default: http://<server.host>:<server.port>)")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// SetVersionInfo records build metadata injected by main.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(handlers.VersionInfo{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
	})
}

// GetAppIdentity returns the identity resolved at startup, or nil before
// the root command has run.
func GetAppIdentity() *config.AppIdentity {
	return appIdentity
}

func initIdentity() {
	if appIdentity != nil {
		return
	}
	id := config.Identity()
	appIdentity = &id
}

// setDefaults registers configuration defaults on the global viper so
// flag bindings and the loader agree.
func setDefaults() {
	config.ApplyDefaults(viper.GetViper())
}

// ExitWithCode logs err and exits the process.
func ExitWithCode(logger *zap.Logger, code int, msg string, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fields := []zap.Field{zap.Int("exit_code", code)}
	if err != nil {
		fields = append(fields, apperrors.LogFields(err)...)
	}
	logger.Error(msg, fields...)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	_ = logger.Sync()
	os.Exit(code)
}

// exitError carries a specific exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

func exitCodeFor(err error) int {
	var ee *exitError
	if ok := asExit(err, &ee); ok {
		return ee.code
	}
	if strings.Contains(err.Error(), "unknown command") || strings.Contains(err.Error(), "unknown flag") {
		return ExitUsage
	}
	return ExitFailure
}

func asExit(err error, target **exitError) bool {
	for err != nil {
		if ee, ok := err.(*exitError); ok {
			*target = ee
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
