// Package main implements the bootstrap CLI that populates SSM Parameter
// Store with the secrets the API and poller resolve at startup.
//
// Usage:
//
//	go run ./cmd/ops/bootstrap --env=dev
//	go run ./cmd/ops/bootstrap --env=prod --profile=bingo-prod --region=eu-north-1
//	go run ./cmd/ops/bootstrap --env=dev --export-env
//
// Parameters already present are left alone unless --overwrite is given.
// On completion the tool prints the <VAR>_SSM_PARAM pointers to set on the
// deployed functions.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

var validEnvironments = map[string]bool{
	"dev":     true,
	"staging": true,
	"prod":    true,
}

func main() {
	envFlag := flag.String("env", "", "Target environment (dev/staging/prod) [required]")
	profileFlag := flag.String("profile", "", "AWS CLI profile (default credential chain when empty)")
	regionFlag := flag.String("region", "eu-north-1", "AWS region")
	overwriteFlag := flag.Bool("overwrite", false, "Prompt for and replace parameters that already exist")
	skipDBCheck := flag.Bool("skip-db-check", false, "Do not test-connect to the database URL")
	exportEnvFlag := flag.Bool("export-env", false, "Write the stored values to a local .env file afterwards")
	exportEnvPath := flag.String("export-env-path", ".env", "Path for --export-env")
	flag.Parse()

	if !validEnvironments[*envFlag] {
		fmt.Fprintf(os.Stderr, "error: --env must be dev, staging or prod (got %q)\n\n", *envFlag)
		flag.Usage()
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	awsCfg, account, arn, err := initializeSession(ctx, *profileFlag, *regionFlag, logger)
	if err != nil {
		logger.Error("initialization failed", "error", err)
		os.Exit(1)
	}

	input := bufio.NewScanner(os.Stdin)
	if *envFlag == "prod" && !confirm(input, fmt.Sprintf("Writing PRODUCTION parameters in account %s (%s). Type 'yes' to continue: ", account, arn)) {
		fmt.Fprintln(os.Stderr, "Aborted. No changes were made.")
		return
	}

	var db DatabaseConnector = PgxConnector{}
	if *skipDBCheck {
		db = nil
	}
	mgr := NewSSMManager(ssm.NewFromConfig(awsCfg), *envFlag, logger)
	runner := &Runner{
		SSM:       mgr,
		Params:    Inventory(db),
		Overwrite: *overwriteFlag,
		Input:     input,
		Out:       os.Stderr,
	}

	results, err := runner.Run(ctx)
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}

	fmt.Fprintln(os.Stdout, "# Set on the API and data-poller functions:")
	fmt.Fprintln(os.Stdout, strings.Join(EnvPointers(results), "\n"))

	if *exportEnvFlag {
		if err := ExportEnvFile(ctx, mgr, results, *exportEnvPath); err != nil {
			logger.Error("failed to export .env file", "error", err)
			os.Exit(1)
		}
		logger.Info(".env file exported", "path", *exportEnvPath)
	}
}

// initializeSession loads the AWS configuration and confirms the identity
// with STS before anything is written.
func initializeSession(ctx context.Context, profile, region string, logger *slog.Logger) (aws.Config, string, string, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, "", "", fmt.Errorf("loading AWS config: %w", err)
	}

	idCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	identity, err := sts.NewFromConfig(cfg).GetCallerIdentity(idCtx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return aws.Config{}, "", "", fmt.Errorf("verifying AWS identity (profile %q, region %q): %w", profile, region, err)
	}

	account, arn := aws.ToString(identity.Account), aws.ToString(identity.Arn)
	logger.Info("AWS identity verified", "account_id", account, "arn", arn, "region", region)
	return cfg, account, arn, nil
}

func confirm(input *bufio.Scanner, prompt string) bool {
	fmt.Fprint(os.Stderr, prompt)
	if !input.Scan() {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(input.Text()), "yes")
}
