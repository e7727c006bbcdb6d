package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"bookcatalog/internal/client"
	"bookcatalog/internal/consistency"
)

type MigrateCmd struct{}

func (cmd *MigrateCmd) Run(g *Globals) error {
	cfg, log, err := setup(g)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if cfg.Store.Driver == "memory" {
		log.Info("Nothing to migrate for the in-memory store")
		return nil
	}
	store, err := openStore(context.Background(), cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info("Schema is up to date", zap.String("store", cfg.Store.Driver))
	return nil
}

type ReconcileCmd struct {
	Repair bool `help:"Fix orphans and stale averages instead of only reporting them"`
}

func (cmd *ReconcileCmd) Run(g *Globals) error {
	cfg, log, err := setup(g)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	checker := consistency.NewChecker(store, log)
	report, err := checker.Check(ctx)
	if err != nil {
		return err
	}

	out := struct {
		*consistency.Report
		Books   int                       `json:"books"`
		Ratings int                       `json:"ratings"`
		Repair  *consistency.RepairResult `json:"repair,omitempty"`
	}{Report: report, Books: report.Snapshot.Books, Ratings: report.Snapshot.Ratings}

	if cmd.Repair && !report.Healthy {
		res, err := checker.Repair(ctx, report)
		if err != nil {
			return err
		}
		out.Repair = &res
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	if !report.Healthy && !cmd.Repair {
		return fmt.Errorf("%d consistency violations", len(report.Violations))
	}
	return nil
}

type TopCmd struct {
	Addr  string `help:"Base URL of a running server" default:"http://localhost:5001"`
	Limit int    `short:"n" help:"Print at most this many rows" default:"3"`
}

func (cmd *TopCmd) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	top, err := client.New(cmd.Addr).Top(ctx)
	if err != nil {
		return err
	}
	if cmd.Limit >= 0 && cmd.Limit < len(top) {
		top = top[:cmd.Limit]
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tAVERAGE\tTITLE\tID")
	for i, e := range top {
		fmt.Fprintf(w, "%d\t%.2f\t%s\t%s\n", i+1, e.Average, e.Title, e.BookID)
	}
	return w.Flush()
}
