package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/spec-kit/request-engine/internal/clock"
	"github.com/spec-kit/request-engine/internal/domain"
	"github.com/spec-kit/request-engine/internal/events"
	"github.com/spec-kit/request-engine/internal/repository"
	"github.com/spec-kit/request-engine/internal/service"
)

type cliFixture struct {
	t       *testing.T
	store   *repository.MemoryStore
	ledger  *service.Ledger
	billing *service.BillingService
	out     *bytes.Buffer
	cli     *cli
	fixed   domain.Category
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	clk := clock.Fake(time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC))
	store := repository.NewMemoryStore()
	bus := events.NewBus(events.Options{Clock: clk})
	t.Cleanup(bus.Close)

	f := &cliFixture{
		t:     t,
		store: store,
		out:   &bytes.Buffer{},
		fixed: domain.Category{Name: "Inspection", Price: 12000},
	}
	require.NoError(t, store.Categories().Upsert(context.Background(), &f.fixed))
	f.ledger = service.NewLedger(service.LedgerDependencies{
		Requests:   store.Requests(),
		Categories: store.Categories(),
		Bus:        bus,
		Clock:      clk,
	})
	f.billing = service.NewBillingService(service.BillingDependencies{
		Requests: store.Requests(),
		Billing:  store.Billing(),
		Clock:    clk,
	})
	f.cli = &cli{
		out: f.out,
		open: func(context.Context) (*environment, error) {
			return &environment{billing: f.billing, categories: store.Categories(), location: time.UTC}, nil
		},
		now: func() time.Time { return time.Date(2024, 4, 15, 12, 0, 0, 0, time.UTC) },
	}
	return f
}

func (f *cliFixture) resolve(client int64, closedAt time.Time) {
	f.t.Helper()
	ctx := context.Background()
	req, err := f.ledger.Create(ctx, service.NewRequestInput{ClientRef: client, CreatorRef: client, CategoryRef: f.fixed.ID})
	require.NoError(f.t, err)
	_, err = f.ledger.Apply(ctx, service.Command{RequestID: req.ID, Trigger: domain.TriggerAccept, Actor: 50, At: closedAt.Add(-time.Hour)})
	require.NoError(f.t, err)
	_, err = f.ledger.Apply(ctx, service.Command{RequestID: req.ID, Trigger: domain.TriggerResolve, Actor: 50, At: closedAt})
	require.NoError(f.t, err)
}

func (f *cliFixture) exec(args ...string) error {
	f.out.Reset()
	root := newRootCmd(f.cli)
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func TestGenerateCommand(t *testing.T) {
	f := newCLIFixture(t)
	f.resolve(1, time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC))

	require.NoError(t, f.exec("generate", "--client", "1", "--period", "2024-03", "-o", "yaml"))
	var period map[string]any
	require.NoError(t, yaml.Unmarshal(f.out.Bytes(), &period))
	assert.Equal(t, "2024-03", period["period"])
	assert.Equal(t, 12000, period["total"])
	assert.Equal(t, "OPEN", period["status"])

	err := f.exec("generate", "--client", "1", "--period", "2024-03")
	assert.ErrorIs(t, err, domain.ErrAlreadyBilled)

	require.NoError(t, f.exec("generate", "--client", "1", "--period", "2024-03", "--regenerate"))
	assert.Contains(t, f.out.String(), "TOTAL")

	assert.Error(t, f.exec("generate", "--period", "2024-03"), "client is required")
	assert.Error(t, f.exec("generate", "--client", "1", "--period", "March"))
}

func TestDefaultPeriodIsPreviousMonth(t *testing.T) {
	f := newCLIFixture(t)
	f.resolve(1, time.Date(2024, 3, 31, 23, 0, 0, 0, time.UTC))

	require.NoError(t, f.exec("generate", "--client", "1", "-o", "json"))
	var period map[string]any
	require.NoError(t, json.Unmarshal(f.out.Bytes(), &period))
	assert.Equal(t, "2024-03", period["period"])
}

func TestGenerateAllAndSummary(t *testing.T) {
	f := newCLIFixture(t)
	f.resolve(1, time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC))
	f.resolve(2, time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC))
	f.resolve(2, time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC))

	require.NoError(t, f.exec("generate-all", "--period", "2024-03"))
	assert.Contains(t, f.out.String(), "CLIENT")

	require.NoError(t, f.exec("summary", "--period", "2024-03", "-o", "json"))
	var summary service.Summary
	require.NoError(t, json.Unmarshal(f.out.Bytes(), &summary))
	assert.Len(t, summary.Clients, 2)
	assert.Equal(t, int64(36000), summary.GrandTotal)

	require.NoError(t, f.exec("close", "--client", "2", "--period", "2024-03"))
	assert.Equal(t, "period 2024-03 of client 2 is CLOSED\n", f.out.String())
	require.NoError(t, f.exec("invoice", "--client", "2", "--period", "2024-03"))
	assert.Contains(t, f.out.String(), "INVOICED")

	f.resolve(2, time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC))
	err := f.exec("generate-all", "--period", "2024-03", "-o", "yaml")
	assert.ErrorContains(t, err, "1 of 1 clients failed")
	assert.Contains(t, f.out.String(), "client_ref: 2")

	assert.ErrorContains(t, f.exec("summary", "--period", "2024-03", "-o", "xml"), "unknown output format")
}

func TestSeedCategoriesCommand(t *testing.T) {
	f := newCLIFixture(t)
	file := filepath.Join(t.TempDir(), "categories.yaml")
	require.NoError(t, os.WriteFile(file, []byte("categories:\n  - {id: 7, name: Consulting, variable: true}\n"), 0o600))

	require.NoError(t, f.exec("seed-categories", "-f", file))
	assert.Equal(t, "1 categories upserted\n", f.out.String())

	category, err := f.store.Categories().Get(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, category.Variable)
}
