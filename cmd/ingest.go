// -- cmd/ingest.go --
package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/formcourier/formcourier/api/schemas"
	"github.com/formcourier/formcourier/internal/observability"
	"github.com/formcourier/formcourier/internal/store"
)

// newIngestCmd creates the `ingest` command, which loads a CSV of targets
// into the record store without attempting any of them.
func newIngestCmd() *cobra.Command {
	ingestCmd := &cobra.Command{
		Use:   "ingest <targets.csv>",
		Short: "Load a CSV of targets into the record store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return fmt.Errorf("database.url is required for ingest")
			}

			pool, err := pgxpool.New(ctx, cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer pool.Close()

			recordStore, err := store.New(ctx, pool, logger)
			if err != nil {
				return err
			}
			if err := recordStore.EnsureSchema(ctx); err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open targets file: %w", err)
			}
			defer f.Close()

			targets, err := readTargetsCSV(f)
			if err != nil {
				return err
			}
			for _, t := range targets {
				if err := recordStore.AddTarget(ctx, t); err != nil {
					return err
				}
			}

			logger.Info("Targets ingested", zap.Int("count", len(targets)))
			fmt.Fprintf(cmd.OutOrStdout(), "ingested %d targets\n", len(targets))
			return nil
		},
	}
	return ingestCmd
}

// readTargetsCSV parses a headed CSV into targets. Only site_url is
// required; a missing id gets a generated one.
func readTargetsCSV(r io.Reader) ([]schemas.Target, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := col["site_url"]; !ok {
		return nil, fmt.Errorf("CSV is missing the required site_url column")
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var targets []schemas.Target
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV line %d: %w", line, err)
		}

		site := field(row, "site_url")
		if site == "" {
			return nil, fmt.Errorf("CSV line %d has an empty site_url", line)
		}

		t := schemas.Target{
			ID:      field(row, "id"),
			Name:    field(row, "name"),
			SiteURL: site,
			Payload: schemas.Payload{
				FirstName:  field(row, "first_name"),
				LastName:   field(row, "last_name"),
				Email:      field(row, "email"),
				Phone:      field(row, "phone"),
				PostalCode: field(row, "postal_code"),
				Message:    field(row, "message"),
				Consent:    parseConsent(field(row, "consent")),
			},
		}
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if t.Name == "" {
			t.Name = site
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func parseConsent(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

// loadPendingTargets pulls unattempted targets out of the store.
func loadPendingTargets(ctx context.Context, recordStore *store.Store, limit int) ([]schemas.Target, error) {
	targets, err := recordStore.NextTargets(ctx, limit)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no pending targets in the record store")
	}
	return targets, nil
}
