// Package main is a terminal reporting tool for settled daily earnings.
// It prints a per-day table plus period totals for a date range:
//
//	report -from 2026-08-01 -to 2026-08-31 -currency USD
//
// With no range it reports the trailing 30 days.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/evetabi/lending/internal/config"
	"github.com/evetabi/lending/internal/domain"
	"github.com/evetabi/lending/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq" // postgres driver
	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

func main() {
	_ = godotenv.Load()

	var (
		fromFlag     = flag.String("from", "", "range start (YYYY-MM-DD), default 30 days ago")
		toFlag       = flag.String("to", "", "range end (YYYY-MM-DD), default today")
		currencyFlag = flag.String("currency", "", "lending currency, default from config")
	)
	flag.Parse()

	cfg := config.MustLoad()

	currency := cfg.Exchange.Currency
	if *currencyFlag != "" {
		currency = *currencyFlag
	}

	to := time.Now().UTC().Truncate(24 * time.Hour)
	from := to.AddDate(0, 0, -30)
	var err error
	if *fromFlag != "" {
		if from, err = time.Parse(dateLayout, *fromFlag); err != nil {
			fatalf("invalid -from %q: %v", *fromFlag, err)
		}
	}
	if *toFlag != "" {
		if to, err = time.Parse(dateLayout, *toFlag); err != nil {
			fatalf("invalid -to %q: %v", *toFlag, err)
		}
	}
	if to.Before(from) {
		fatalf("-to %s precedes -from %s", to.Format(dateLayout), from.Format(dateLayout))
	}

	db, err := sqlx.Connect("postgres", cfg.DB.DSN)
	if err != nil {
		fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	repo := repository.NewEarningsRepository(db)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rows, err := repo.ListRange(ctx, currency, from, to)
	if err != nil {
		fatalf("query failed: %v", err)
	}
	if len(rows) == 0 {
		fmt.Printf("no settled days for %s between %s and %s\n",
			currency, from.Format(dateLayout), to.Format(dateLayout))
		return
	}

	printReport(rows, currency)
}

func printReport(rows []*domain.DailyEarnings, currency string) {
	fmt.Printf("\nDaily earnings — %s, %d day(s)\n\n", currency, len(rows))

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Date", "Status", "Interest", "Deployed", "Idle", "Util%", "AvgRate%", "APR%", "Orders", "Fill%", "Strategy")

	total := decimal.Zero
	sumUtil := decimal.Zero
	sumAPR := decimal.Zero
	settled := 0

	for _, e := range rows {
		table.Append(
			e.Date.Format(dateLayout),
			string(e.SettlementStatus),
			e.TotalInterest.StringFixed(4),
			e.DeployedAmount.StringFixed(2),
			e.AvailableAmount.StringFixed(2),
			e.UtilizationRate.StringFixed(1),
			e.WeightedAvgRate.Mul(decimal.NewFromInt(100)).StringFixed(3),
			e.AnnualizedReturn.StringFixed(2),
			fmt.Sprintf("%d", e.TotalOrders),
			e.SuccessRate.StringFixed(0),
			e.PrimaryStrategy,
		)

		total = total.Add(e.TotalInterest)
		if e.SettlementStatus == domain.SettlementCompleted {
			sumUtil = sumUtil.Add(e.UtilizationRate)
			sumAPR = sumAPR.Add(e.AnnualizedReturn)
			settled++
		}
	}

	table.Render()

	fmt.Printf("\n  total interest: %s %s\n", total.StringFixed(4), currency)
	if settled > 0 {
		n := decimal.NewFromInt(int64(settled))
		fmt.Printf("  avg utilization: %s%%   avg annualized return: %s%%   (%d settled day(s))\n",
			sumUtil.Div(n).StringFixed(1), sumAPR.Div(n).StringFixed(2), settled)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "report: "+format+"\n", args...)
	os.Exit(1)
}
