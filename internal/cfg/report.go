package cfg

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/keithlinneman/windowguard/internal/log"
)

// Report is the configuration of the rejection report command (cmd/report).
type Report struct {
	LogLevel string
	LogJSON  bool

	Date   string
	Format string

	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	StoreTimeout  time.Duration

	S3Bucket string
	S3Prefix string
}

func RegisterReport(fs *flag.FlagSet, c *Report) {
	fs.StringVar(&c.LogLevel, "log-level", "warn", "debug|info|warn|error")
	fs.BoolVar(&c.LogJSON, "log-json", false, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.Date, "date", "", "UTC day to report on, YYYY-MM-DD (default today)")
	fs.StringVar(&c.Format, "format", "table", "output format: table|json")
	fs.StringVar(&c.RedisHost, "redis-host", "localhost", "redis host")
	fs.IntVar(&c.RedisPort, "redis-port", 6379, "redis port")
	fs.IntVar(&c.RedisDB, "redis-db", 1, "redis database index")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "redis password")
	fs.DurationVar(&c.StoreTimeout, "store-timeout", 5*time.Second, "upper bound on a single redis round trip")
	fs.StringVar(&c.S3Bucket, "s3-bucket", "", "upload the JSON report to this bucket (optional)")
	fs.StringVar(&c.S3Prefix, "s3-prefix", "windowguard/rejections", "key prefix for uploaded reports")
}

func ValidateReport(c Report) error {
	var errs []error
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.Date != "" {
		if _, err := time.Parse(time.DateOnly, c.Date); err != nil {
			errs = append(errs, fmt.Errorf("invalid DATE %q (want YYYY-MM-DD)", c.Date))
		}
	}
	if c.Format != "table" && c.Format != "json" {
		errs = append(errs, fmt.Errorf("invalid FORMAT %q (must be table|json)", c.Format))
	}
	if c.RedisHost == "" {
		errs = append(errs, fmt.Errorf("REDIS_HOST is required"))
	}
	if !validPort(c.RedisPort) {
		errs = append(errs, fmt.Errorf("invalid REDIS_PORT %d (must be 1..65535)", c.RedisPort))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, fmt.Errorf("STORE_TIMEOUT must be positive (got %s)", c.StoreTimeout))
	}
	return errors.Join(errs...)
}
