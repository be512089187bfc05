package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/arcana/api/internal/app"
	"github.com/arcana/api/internal/config"
	"github.com/arcana/api/internal/database"
	"github.com/arcana/api/internal/eventbus"
	"github.com/arcana/api/internal/handlers"
	"github.com/arcana/api/internal/middleware"
	"github.com/arcana/api/internal/models"
	"github.com/arcana/api/internal/telemetry"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// verifyFailure marks a record that failed verification, as opposed to an I/O error
type verifyFailure struct{ err error }

func (v *verifyFailure) Error() string { return v.err.Error() }
func (v *verifyFailure) Unwrap() error { return v.err }

func newMigrateCmd(cfg *config.Config, logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return database.RunMigrations(cfg.DatabaseURL, logger)
		},
	}
}

func newTestConnCmd(cfg *config.Config, logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "testconn",
		Short: "Check connectivity to Postgres, Redis and NATS",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			checks := map[string]func(context.Context) error{
				"postgres": func(ctx context.Context) error {
					db, err := database.NewPostgres(ctx, cfg.DatabaseURL, "readingctl")
					if err != nil {
						return err
					}
					defer db.Close()
					var one int
					return db.Pool().QueryRow(ctx, "SELECT 1").Scan(&one)
				},
				"redis": func(ctx context.Context) error {
					rdb, err := database.NewRedis(ctx, cfg.RedisURL)
					if err != nil {
						return err
					}
					defer rdb.Close()
					return rdb.Ping(ctx)
				},
				"nats": func(ctx context.Context) error {
					bus, err := eventbus.Connect(cfg.NATSURL, logger)
					if err != nil {
						return err
					}
					defer bus.Close()
					return bus.Ping(ctx)
				},
			}

			results := make(map[string]error, len(checks))
			var g errgroup.Group
			type result struct {
				name string
				err  error
			}
			ch := make(chan result, len(checks))
			for name, check := range checks {
				g.Go(func() error {
					ch <- result{name, check(ctx)}
					return nil
				})
			}
			_ = g.Wait()
			close(ch)
			for r := range ch {
				results[r.name] = r.err
			}

			failed := 0
			for _, name := range []string{"postgres", "redis", "nats"} {
				if err := results[name]; err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%-9s FAIL %v\n", name, err)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%-9s ok\n", name)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d connection check(s) failed", failed)
			}
			return nil
		},
	}
}

func newUsageCmd(cfg *config.Config, logger *zap.Logger) *cobra.Command {
	var userID, tier, period string
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show quota usage for a requester",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.Build(cmd.Context(), cfg, prometheus.NewRegistry(), logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if period == "" {
				period = a.Quota.CurrentPeriod()
			}
			usage, err := a.Quota.Usage(cmd.Context(), userID, period, cfg.Quota.LimitFor(tier))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), usage)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "requester id")
	cmd.Flags().StringVar(&tier, "tier", "free", "plan tier used for the limit")
	cmd.Flags().StringVar(&period, "period", "", "period key YYYY-MM (default current)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newVerifyRecordCmd(cfg *config.Config, _ *zap.Logger) *cobra.Command {
	var key, requestID string
	cmd := &cobra.Command{
		Use:   "verify-record [record.json]",
		Short: "Verify the hash and signature of a telemetry record",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				key = cfg.TelemetrySigningKey
			}

			var rec telemetry.Record
			switch {
			case requestID != "":
				db, err := database.NewPostgres(cmd.Context(), cfg.DatabaseURL, "readingctl")
				if err != nil {
					return err
				}
				defer db.Close()
				rec, err = telemetry.NewPostgresSink(db).Get(cmd.Context(), requestID)
				if err != nil {
					return err
				}
			case len(args) == 1:
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				if err := json.Unmarshal(data, &rec); err != nil {
					return fmt.Errorf("failed to decode record: %w", err)
				}
			default:
				return errors.New("pass a record file or --request-id")
			}

			if err := telemetry.NewSigner(key).Verify(rec); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "INVALID %s: %v\n", rec.RequestID, err)
				return &verifyFailure{err: err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "VALID %s hash=%s\n", rec.RequestID, rec.Hash)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "signing key (default TELEMETRY_SIGNING_KEY)")
	cmd.Flags().StringVar(&requestID, "request-id", "", "load the record from Postgres")
	return cmd
}

func newEventsCmd(cfg *config.Config, logger *zap.Logger) *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List telemetry records from the JetStream readings stream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			bus, err := eventbus.Connect(cfg.NATSURL, logger)
			if err != nil {
				return err
			}
			defer bus.Close()

			store, err := eventbus.NewJetStreamStore(bus, telemetry.EventStream, telemetry.EventSubjects)
			if err != nil {
				return err
			}

			subject := telemetry.EventSubjects
			if status != "" {
				subject = telemetry.Subject(telemetry.Record{Status: models.DispositionStatus(status)})
			}
			events, err := store.Read(subject, limit)
			if err != nil {
				return err
			}
			for _, ev := range events {
				var rec telemetry.Record
				if err := json.Unmarshal(ev.Data, &rec); err != nil {
					logger.Warn("skipping undecodable event", zap.String("id", ev.ID), zap.Error(err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-20s %-16s %s\n",
					ev.Timestamp.UTC().Format(time.RFC3339), rec.Status, rec.BackendID, rec.RequestID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only records with this disposition status")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum records to list")
	return cmd
}

func newTokenCmd(cfg *config.Config) *cobra.Command {
	var userID, tier, name string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id := uuid.New()
			if userID != "" {
				parsed, err := uuid.Parse(userID)
				if err != nil {
					return fmt.Errorf("invalid --user: %w", err)
				}
				id = parsed
			}
			token, err := middleware.IssueToken(cfg.JWTSecret, id, tier, name, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user uuid (default random)")
	cmd.Flags().StringVar(&tier, "tier", "free", "plan tier")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func newSmokeCmd(cfg *config.Config) *cobra.Command {
	var baseURL, tier string
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Post a three-card reading to a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := middleware.IssueToken(cfg.JWTSecret, uuid.New(), tier, "", 10*time.Minute)
			if err != nil {
				return err
			}

			body, err := json.Marshal(handlers.CreateReadingRequest{
				TemplateKey: "three_card",
				Elements: []models.Element{
					{ID: "The Tower", Position: "past"},
					{ID: "The Star", Position: "present"},
					{ID: "Three of Cups", Position: "future"},
				},
				UserContext: "Thinking about changing teams at work.",
			})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/v1/readings", bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+token)

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			var disp models.Disposition
			if err := json.NewDecoder(resp.Body).Decode(&disp); err != nil {
				return fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "HTTP %d\n", resp.StatusCode)
			if err := writeJSON(cmd.OutOrStdout(), disp); err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("reading %s: %s", disp.Status, disp.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "server base URL")
	cmd.Flags().StringVar(&tier, "tier", "pro", "plan tier for the smoke token")
	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
