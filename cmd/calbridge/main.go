// Command calbridge issues one calendar call over the mail bridge and
// prints the correlated response as JSON.
//
//	calbridge -op list -range-start 2026-08-01 -range-end 2026-08-31
//	calbridge -op create -title "Standup" -start 2026-08-26T09:00:00Z
//	calbridge -op health
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abdatta/cal-bridge/internal/bridge"
	"github.com/abdatta/cal-bridge/internal/config"
	"github.com/abdatta/cal-bridge/internal/rate"
	"github.com/abdatta/cal-bridge/internal/transport"
	"github.com/abdatta/cal-bridge/internal/wire"
)

type cliConfig struct {
	configPath string
	op         string
	apiGap     time.Duration

	rangeStart  string
	rangeEnd    string
	id          string
	title       string
	start       string
	end         string
	location    string
	description string
}

func main() {
	cfg := parseFlags()
	if err := run(cfg); err != nil {
		defaultLogger().Error("calbridge failed", "error", err)
		os.Exit(1)
	}
}

func parseFlags() cliConfig {
	configPath := flag.String("config", config.DefaultConfigPath(), "bridge config file")
	op := flag.String("op", "health", "operation: list, create, update, delete, health")
	apiGap := flag.Duration("api-gap", time.Second, "minimum gap between Gmail API calls")

	rangeStart := flag.String("range-start", "", "list: start of the date range")
	rangeEnd := flag.String("range-end", "", "list: end of the date range")
	id := flag.String("id", "", "update/delete: event id")
	title := flag.String("title", "", "create/update: event title")
	start := flag.String("start", "", "create/update: event start (RFC 3339)")
	end := flag.String("end", "", "create/update: event end (RFC 3339)")
	location := flag.String("location", "", "create/update: event location")
	description := flag.String("description", "", "create/update: event description")
	flag.Parse()

	return cliConfig{
		configPath:  *configPath,
		op:          *op,
		apiGap:      *apiGap,
		rangeStart:  *rangeStart,
		rangeEnd:    *rangeEnd,
		id:          *id,
		title:       *title,
		start:       *start,
		end:         *end,
		location:    *location,
		description: *description,
	}
}

func run(cli cliConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(cli.configPath)
	if err != nil {
		return err
	}

	caps := make([]wire.Action, 0, len(cfg.SupportedActions))
	for _, a := range cfg.SupportedActions {
		caps = append(caps, wire.Action(a))
	}

	client := bridge.New(bridge.Options{
		Connector:    transport.LocalCredConnector{ConfigDir: cfg.CredentialsDir},
		Sender:       cfg.Sender,
		Recipient:    cfg.Recipient,
		ResponseFrom: cfg.ResponseFrom,
		PollInterval: cfg.PollInterval,
		Timeout:      cfg.RequestTimeout,
		PageSize:     cfg.PageSize,
		Capabilities: caps,
		Limiter:      rate.NewMinInterval(cli.apiGap),
		Logger:       defaultLogger(),
	})

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Disconnect()

	resp, err := dispatch(ctx, client, cli)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func dispatch(ctx context.Context, client *bridge.Client, cli cliConfig) (bridge.Response, error) {
	switch cli.op {
	case "list":
		return client.ListEvents(ctx, bridge.ListEventsParams{
			RangeStart: cli.rangeStart,
			RangeEnd:   cli.rangeEnd,
		})
	case "create":
		return client.CreateEvent(ctx, bridge.Event{
			Title:       cli.title,
			Start:       cli.start,
			End:         cli.end,
			Location:    cli.location,
			Description: cli.description,
		})
	case "update":
		return client.UpdateEvent(ctx, bridge.UpdateEventParams{
			ID:          cli.id,
			Title:       cli.title,
			Start:       cli.start,
			End:         cli.end,
			Location:    cli.location,
			Description: cli.description,
		})
	case "delete":
		return client.DeleteEvent(ctx, cli.id)
	case "health":
		return client.HealthCheck(ctx)
	default:
		return bridge.Response{}, fmt.Errorf("unknown operation %q", cli.op)
	}
}

func printResponse(resp bridge.Response) error {
	out := struct {
		CorrelationID string          `json:"correlationId,omitempty"`
		Status        bridge.Status   `json:"status"`
		Data          json.RawMessage `json:"data,omitempty"`
		Code          string          `json:"code,omitempty"`
		Error         string          `json:"error,omitempty"`
		DurationMs    int64           `json:"durationMs"`
	}{
		CorrelationID: resp.CorrelationID,
		Status:        resp.Status,
		Data:          resp.Data,
		Code:          resp.Code,
		Error:         resp.Error,
		DurationMs:    resp.DurationMs(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
