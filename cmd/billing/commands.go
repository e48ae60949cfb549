package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/spec-kit/request-engine/internal/api/dto"
	"github.com/spec-kit/request-engine/internal/domain"
	"github.com/spec-kit/request-engine/internal/repository"
	"github.com/spec-kit/request-engine/internal/service"
)

// environment is what a command needs to run.
type environment struct {
	billing    *service.BillingService
	categories repository.CategoryRepository
	location   *time.Location
	close      func()
}

type cli struct {
	out  io.Writer
	open func(ctx context.Context) (*environment, error)
	now  func() time.Time
}

func newRootCmd(c *cli) *cobra.Command {
	if c.now == nil {
		c.now = time.Now
	}
	root := &cobra.Command{
		Use:          "billing",
		Short:        "Monthly billing jobs for resolved requests",
		SilenceUsage: true,
	}
	root.SetOut(c.out)
	root.SetErr(c.out)

	root.AddCommand(
		c.generateCmd(),
		c.generateAllCmd(),
		c.summaryCmd(),
		c.advanceCmd("close", "Close a period so it accepts no more line items", (*service.BillingService).Close),
		c.advanceCmd("invoice", "Mark a closed period as invoiced", (*service.BillingService).MarkInvoiced),
		c.seedCmd(),
	)
	return root
}

// run opens the environment, calls fn and releases everything afterwards.
func (c *cli) run(cmd *cobra.Command, fn func(ctx context.Context, env *environment) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	env, err := c.open(ctx)
	if err != nil {
		return err
	}
	if env.close != nil {
		defer env.close()
	}
	return fn(ctx, env)
}

// period resolves the --period flag; empty means the previous month in the
// billing timezone.
func (c *cli) period(raw string, loc *time.Location) (domain.Month, error) {
	if loc == nil {
		loc = time.UTC
	}
	if strings.TrimSpace(raw) == "" {
		now := c.now().In(loc)
		prev := now.AddDate(0, 0, -now.Day())
		return domain.NewMonth(prev.Year(), int(prev.Month()))
	}
	t, err := time.Parse("2006-01", raw)
	if err != nil {
		return domain.Month{}, fmt.Errorf("period must look like 2024-03: %w", err)
	}
	return domain.NewMonth(t.Year(), int(t.Month()))
}

func (c *cli) generateCmd() *cobra.Command {
	var (
		client     int64
		period     string
		regenerate bool
		output     string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Bill one client's resolved requests for a month",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if client <= 0 {
				return fmt.Errorf("--client is required")
			}
			return c.run(cmd, func(ctx context.Context, env *environment) error {
				m, err := c.period(period, env.location)
				if err != nil {
					return err
				}
				p, err := env.billing.Generate(ctx, client, m.Year, int(m.Month), service.GenerateOptions{Regenerate: regenerate})
				if err != nil {
					return err
				}
				return render(c.out, output, dto.NewBillingPeriodResponse(p), func(w *tabwriter.Writer) {
					fmt.Fprintf(w, "PERIOD\t%s\n", p.Period)
					fmt.Fprintf(w, "CLIENT\t%d\n", p.ClientRef)
					fmt.Fprintf(w, "STATUS\t%s\n", p.Status)
					fmt.Fprintln(w, "REQUEST\tCATEGORY\tCOST\tELAPSED\tCLOSED")
					for _, item := range p.LineItems {
						fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\n", item.RequestID, item.CategoryRef, item.Cost,
							time.Duration(item.ElapsedSeconds)*time.Second, item.ClosedAt.Format(time.RFC3339))
					}
					fmt.Fprintf(w, "TOTAL\t\t%d\t\t\n", p.Total())
				})
			})
		},
	}
	cmd.Flags().Int64Var(&client, "client", 0, "client reference")
	cmd.Flags().StringVar(&period, "period", "", "billing month as YYYY-MM (default: previous month)")
	cmd.Flags().BoolVar(&regenerate, "regenerate", false, "return the stored period when nothing is left to bill")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, yaml or json")
	return cmd
}

func (c *cli) generateAllCmd() *cobra.Command {
	var (
		period     string
		regenerate bool
		output     string
	)
	cmd := &cobra.Command{
		Use:   "generate-all",
		Short: "Bill every client with unbilled resolved requests in a month",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd, func(ctx context.Context, env *environment) error {
				m, err := c.period(period, env.location)
				if err != nil {
					return err
				}
				report, err := env.billing.GenerateAll(ctx, m.Year, int(m.Month), service.GenerateOptions{Regenerate: regenerate})
				if err != nil {
					return err
				}
				err = render(c.out, output, report, func(w *tabwriter.Writer) {
					fmt.Fprintln(w, "CLIENT\tLINE ITEMS\tTOTAL\tERROR")
					for _, o := range report.Outcomes {
						fmt.Fprintf(w, "%d\t%d\t%d\t%s\n", o.ClientRef, o.LineItems, o.Total, o.Error)
					}
				})
				if err != nil {
					return err
				}
				if failed := report.Failed(); len(failed) > 0 {
					return fmt.Errorf("%d of %d clients failed", len(failed), len(report.Outcomes))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&period, "period", "", "billing month as YYYY-MM (default: previous month)")
	cmd.Flags().BoolVar(&regenerate, "regenerate", false, "include clients whose period is already billed")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, yaml or json")
	return cmd
}

func (c *cli) summaryCmd() *cobra.Command {
	var (
		client int64
		period string
		output string
	)
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show stored billing periods of a month",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd, func(ctx context.Context, env *environment) error {
				m, err := c.period(period, env.location)
				if err != nil {
					return err
				}
				var clientRef *int64
				if client > 0 {
					clientRef = &client
				}
				summary, err := env.billing.Summary(ctx, clientRef, m.Year, int(m.Month))
				if err != nil {
					return err
				}
				return render(c.out, output, summary, func(w *tabwriter.Writer) {
					fmt.Fprintln(w, "CLIENT\tSTATUS\tLINE ITEMS\tTOTAL")
					for _, s := range summary.Clients {
						fmt.Fprintf(w, "%d\t%s\t%d\t%d\n", s.ClientRef, s.Status, s.LineItems, s.Total)
					}
					fmt.Fprintf(w, "ALL\t\t\t%d\n", summary.GrandTotal)
				})
			})
		},
	}
	cmd.Flags().Int64Var(&client, "client", 0, "limit to one client")
	cmd.Flags().StringVar(&period, "period", "", "billing month as YYYY-MM (default: previous month)")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, yaml or json")
	return cmd
}

type periodAction func(b *service.BillingService, ctx context.Context, clientRef int64, year, month int) (*domain.BillingPeriod, error)

func (c *cli) advanceCmd(use, short string, action periodAction) *cobra.Command {
	var (
		client int64
		period string
	)
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if client <= 0 {
				return fmt.Errorf("--client is required")
			}
			return c.run(cmd, func(ctx context.Context, env *environment) error {
				m, err := c.period(period, env.location)
				if err != nil {
					return err
				}
				p, err := action(env.billing, ctx, client, m.Year, int(m.Month))
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "period %s of client %d is %s\n", p.Period, p.ClientRef, p.Status)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&client, "client", 0, "client reference")
	cmd.Flags().StringVar(&period, "period", "", "billing month as YYYY-MM (default: previous month)")
	return cmd
}

func (c *cli) seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed-categories",
		Short: "Upsert categories from a YAML file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			return c.run(cmd, func(ctx context.Context, env *environment) error {
				n, err := repository.SeedCategories(ctx, env.categories, file)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "%d categories upserted\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with a categories list")
	return cmd
}

func render(out io.Writer, format string, v any, table func(w *tabwriter.Writer)) error {
	switch strings.ToLower(format) {
	case "", "table":
		w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
		table(w)
		return w.Flush()
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return fmt.Errorf("unknown output format %q", format)
}
