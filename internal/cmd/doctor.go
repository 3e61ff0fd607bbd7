package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/adfanout/internal/config"
	apperrors "github.com/3leaps/adfanout/internal/errors"
	"github.com/3leaps/adfanout/internal/observability"
	"github.com/3leaps/adfanout/pkg/media"
	"github.com/3leaps/adfanout/pkg/template"
)

var (
	doctorProvider string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the configuration and its backends and suggest
fixes for common issues.

Examples:
  adfanout doctor                # Config, platform, template and media checks
  adfanout doctor --provider s3  # Also check AWS credentials`,
	Run: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorProvider, "provider", "", "Run provider-specific checks (s3)")
}

func runDoctor(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	observability.CLILogger.Info("=== " + bannerName + " ===")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Running diagnostic checks...")
	observability.CLILogger.Info("")

	allChecks := true
	checkNum := 1
	totalChecks := 6

	// Check 1: Go version
	goVersion := runtime.Version()
	if goVersion >= "go1.23" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Go version... ✅ %s", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
	} else {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking Go version... ⚠️  %s (recommended: go1.23+)", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
		allChecks = false
	}
	checkNum++

	// Check 2: Configuration
	cfg, err := config.Load(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking configuration... ❌ %v", checkNum, totalChecks, err))
		ExitWithCode(observability.CLILogger, ExitConfigInvalid, "Invalid configuration", err)
		return
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking configuration... ✅ platform=%s templates=%s media=%s jobs=%s",
		checkNum, totalChecks, cfg.Platform.Mode, cfg.Templates.Driver, cfg.Media.Backend, cfg.Jobs.Store))
	checkNum++

	if cfg.Media.Backend == "s3" && doctorProvider == "" {
		doctorProvider = "s3"
	}
	if doctorProvider == "s3" {
		totalChecks += 2
	}

	// Check 3: Config directory
	configDir, err := os.UserConfigDir()
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking config directory... ❌ Cannot find config directory", checkNum, totalChecks),
			zap.Error(err))
		ExitWithCode(observability.CLILogger, ExitFileNotFound, "Cannot find config directory",
			apperrors.WrapInternal(ctx, err, "Cannot find config directory"))
		return
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking config directory... ✅ %s", checkNum, totalChecks, configDir),
		zap.String("config_dir", configDir))
	checkNum++

	// Check 4: Ads platform
	client, err := openPlatform(cfg.Platform, nil, zap.NewNop())
	switch {
	case err != nil:
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking ads platform... ❌ %v", checkNum, totalChecks, err))
		allChecks = false
	case !client.Ready():
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking ads platform... ⚠️  %s mode without access token or ad account", checkNum, totalChecks, cfg.Platform.Mode))
		printPlatformCredentialsHelp()
		allChecks = false
	default:
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking ads platform... ✅ %s", checkNum, totalChecks, cfg.Platform.Mode),
			zap.String("ad_account_id", cfg.Platform.AdAccountID))
	}
	checkNum++

	// Check 5: Template store
	if err := checkTemplateStore(ctx, cfg.Templates); err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking template store... ❌ %v", checkNum, totalChecks, err))
		allChecks = false
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking template store... ✅ %s", checkNum, totalChecks, cfg.Templates.Driver))
	}
	checkNum++

	// Check 6: Media storage
	if err := checkMediaStorage(ctx, cfg.Media); err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking media storage... ❌ %v", checkNum, totalChecks, err))
		allChecks = false
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking media storage... ✅ %s", checkNum, totalChecks, cfg.Media.Backend))
	}
	checkNum++

	// S3-specific checks
	if doctorProvider == "s3" {
		allChecks = runS3Checks(ctx, cfg.Media.S3, checkNum, totalChecks, allChecks)
	}

	observability.CLILogger.Info("")
	if allChecks {
		observability.CLILogger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	observability.CLILogger.Info("")
	observability.CLILogger.Info("=== End Diagnostics ===")
}

func checkTemplateStore(ctx context.Context, cfg config.TemplatesConfig) error {
	if cfg.Driver != "sqlite" {
		return nil
	}
	a := &app{logger: zap.NewNop()}
	defer a.close()
	store, err := openTemplates(ctx, config.TemplatesConfig{Driver: cfg.Driver, Path: cfg.Path}, a)
	if err != nil {
		return err
	}
	if db, ok := store.(*template.SQLiteStore); ok {
		return db.Ping(ctx)
	}
	return nil
}

func checkMediaStorage(ctx context.Context, cfg config.MediaConfig) error {
	storage, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	if p, ok := storage.(media.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// runS3Checks runs S3-specific diagnostic checks.
func runS3Checks(ctx context.Context, s3cfg config.MediaS3Config, checkNum, totalChecks int, allChecks bool) bool {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("S3 Provider Checks:")

	var opts []func(*awsconfig.LoadOptions) error
	if s3cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(s3cfg.Profile))
	}
	if s3cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(s3cfg.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot load AWS config", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot retrieve credentials", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	maskedKey := maskAccessKey(creds.AccessKeyID)
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking AWS credentials... ✅ Found credentials", checkNum, totalChecks),
		zap.String("access_key", maskedKey),
		zap.String("source", creds.Source))
	checkNum++

	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking credential source... ✅ %s", checkNum, totalChecks, source),
		zap.String("credential_source", source))

	return allChecks
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To configure AWS credentials:")
	observability.CLILogger.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	observability.CLILogger.Info("  2. Run 'aws configure' to set up a profile and set media.s3.profile, or")
	observability.CLILogger.Info("  3. Use an IAM role when running on AWS infrastructure")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("For S3-compatible storage (MinIO, Wasabi, etc.), also set:")
	observability.CLILogger.Info("  - media.s3.endpoint and media.s3.force_path_style")
	observability.CLILogger.Info("")
}

// printPlatformCredentialsHelp prints help for configuring the ads platform.
func printPlatformCredentialsHelp() {
	prefix := config.Identity().EnvPrefix
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To configure the ads platform:")
	observability.CLILogger.Info("  1. Set " + prefix + "_ACCESS_TOKEN to a marketing API access token")
	observability.CLILogger.Info("  2. Set " + prefix + "_AD_ACCOUNT_ID (with or without the act_ prefix)")
	observability.CLILogger.Info("  3. Set " + prefix + "_PAGE_ID to the page ads are published as")
	observability.CLILogger.Info("Or set platform.mode: sandbox to exercise jobs without a remote account.")
	observability.CLILogger.Info("")
}
