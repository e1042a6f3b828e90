// Command report prints the rate limit rejections recorded for one UTC day,
// worst offenders first, and optionally archives the report to S3.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/keithlinneman/windowguard/internal/cfg"
	"github.com/keithlinneman/windowguard/internal/counterstore"
	"github.com/keithlinneman/windowguard/internal/log"
	"github.com/keithlinneman/windowguard/internal/rejectreport"
	v "github.com/keithlinneman/windowguard/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "report:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var conf cfg.Report
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	cfg.RegisterReport(fs, &conf)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}
	cfg.FillFromEnv(fs, "WGUARD_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := cfg.ValidateReport(conf); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// level was checked by cfg.ValidateReport
	lvl, _ := log.ParseLevel(conf.LogLevel)
	vi := v.Get()
	lg, err := log.New(log.Options{
		App:     "windowguard",
		Version: vi.Version,
		Commit:  vi.Commit,
		Level:   lvl,
		JSON:    conf.LogJSON,
		Writer:  os.Stderr,
	})
	if err != nil {
		return err
	}
	defer lg.Sync()
	L := lg.With("component", "report")
	ctx = log.WithContext(ctx, L)

	day := time.Now().UTC()
	if conf.Date != "" {
		day, _ = time.Parse(time.DateOnly, conf.Date)
	}

	store, err := counterstore.Dial(ctx, counterstore.RedisConfig{
		Host:     conf.RedisHost,
		Port:     conf.RedisPort,
		DB:       conf.RedisDB,
		Password: conf.RedisPassword,
	}, counterstore.WithTimeout(conf.StoreTimeout))
	if err != nil {
		return err
	}
	defer store.Close()

	rep, err := rejectreport.Collect(ctx, store, day)
	if err != nil {
		return err
	}
	L.Info(ctx, "collected rejections", "date", rep.Date, "clients", len(rep.Entries), "skipped", rep.Skipped)

	if conf.Format == "json" {
		err = rejectreport.WriteJSON(os.Stdout, rep)
	} else {
		err = rejectreport.WriteTable(os.Stdout, rep)
	}
	if err != nil {
		return err
	}

	if conf.S3Bucket == "" {
		return nil
	}
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	key, err := rejectreport.Upload(ctx, s3.NewFromConfig(awsCfg), conf.S3Bucket, conf.S3Prefix, rep)
	if err != nil {
		return err
	}
	L.Info(ctx, "uploaded report", "bucket", conf.S3Bucket, "key", key)
	return nil
}
