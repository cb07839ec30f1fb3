package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/device-presence-service/internal/tools/loadgen"
)

func main() {
	cfg := loadgen.Config{}
	cmd := &cobra.Command{
		Use:          "loadgen",
		Short:        "Drive a synthetic agent fleet against the presence API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := loadgen.Run(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "API base URL")
	f.StringVar(&cfg.Email, "email", os.Getenv("BOOTSTRAP_ADMIN_EMAIL"), "login email")
	f.StringVar(&cfg.Password, "password", os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"), "login password")
	f.StringVar(&cfg.Profile, "profile", "mixed", "traffic profile: heartbeat|connections|chat|mixed")
	f.DurationVar(&cfg.Duration, "duration", 30*time.Second, "run duration")
	f.IntVar(&cfg.RPS, "rps", 20, "target requests per second")
	f.IntVar(&cfg.Concurrency, "concurrency", 4, "worker count")
	f.IntVar(&cfg.Devices, "devices", 10, "devices registered before the run")
	f.Int64Var(&cfg.Seed, "seed", time.Now().UnixNano(), "random seed")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
