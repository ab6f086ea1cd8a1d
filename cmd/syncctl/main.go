package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/joho/godotenv"
	"github.com/prudhvinik1/eventsync/internal/client"
	"github.com/prudhvinik1/eventsync/internal/config"
	"github.com/prudhvinik1/eventsync/internal/database"
	"github.com/prudhvinik1/eventsync/internal/models"
)

const SyncCtlVersion = "0.1.0"

func main() {
	usage := `Event sync client.

Settings come from the environment (SYNC_SERVER_URL, SYNC_DATA_DIR, ...),
optionally loaded from a .env file. --server and --data-dir override them.

Usage:
    syncctl [options] run [--debug]
    syncctl [options] status
    syncctl [options] pending
    syncctl [options] list
    syncctl [options] flush
    syncctl [options] refresh
    syncctl [options] create --name=<name> --category=<category> --start=<start>
        [--venue=<venue>] [--address=<address>] [--description=<text>]
        [--lat=<lat>] [--long=<long>]
    syncctl [options] update <id> [--name=<name>] [--category=<category>] [--start=<start>]
        [--venue=<venue>] [--address=<address>] [--description=<text>]
        [--lat=<lat>] [--long=<long>]
    syncctl [options] delete <id>
    syncctl [options] retry <op_id>

Options:
    -h --help                 Show this screen.
    --version                 Show version.
    --debug                   Log at debug level.
    --server=<url>            Sync server base URL.
    --data-dir=<dir>          Directory holding the client store.
    --name=<name>             Event name.
    --category=<category>     One of music, sports, arts, food, business,
                              community, education, other.
    --start=<start>           Start time, RFC 3339.
    --venue=<venue>
    --address=<address>
    --description=<text>
    --lat=<lat>               Latitude.
    --long=<long>             Longitude.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], SyncCtlVersion)
	if err != nil {
		panic(err)
	}

	godotenv.Load()

	cfg, err := config.LoadClientConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if server, err := opts.String("--server"); err == nil {
		cfg.ServerURL = server
	}
	if dir, err := opts.String("--data-dir"); err == nil {
		cfg.DataDir = dir
	}

	level := slog.LevelWarn
	if debug, _ := opts.Bool("--debug"); debug {
		level = slog.LevelDebug
	} else if run_, _ := opts.Bool("run"); run_ {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := open(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer app.close()

	if err := dispatch(ctx, app, opts); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, app *app, opts docopt.Opts) error {
	if run_, _ := opts.Bool("run"); run_ {
		return app.run(ctx)
	} else if status_, _ := opts.Bool("status"); status_ {
		return app.status(ctx)
	} else if pending_, _ := opts.Bool("pending"); pending_ {
		return app.pending(ctx)
	} else if list_, _ := opts.Bool("list"); list_ {
		return app.list(ctx)
	} else if flush_, _ := opts.Bool("flush"); flush_ {
		return app.flush(ctx)
	} else if refresh_, _ := opts.Bool("refresh"); refresh_ {
		return app.refresh(ctx)
	} else if create_, _ := opts.Bool("create"); create_ {
		return app.create(ctx, opts)
	} else if update_, _ := opts.Bool("update"); update_ {
		return app.update(ctx, opts)
	} else if delete_, _ := opts.Bool("delete"); delete_ {
		id, _ := opts.String("<id>")
		return app.delete(ctx, id)
	} else if retry_, _ := opts.Bool("retry"); retry_ {
		id, _ := opts.String("<op_id>")
		return app.retry(ctx, id)
	}
	return errors.New("unknown command")
}

type app struct {
	db      *sql.DB
	queue   *client.Queue
	store   *client.EventStore
	monitor *client.NetworkMonitor
	socket  *client.Socket
	syncer  *client.Syncer
}

func open(ctx context.Context, cfg *config.ClientConfig, logger *slog.Logger) (*app, error) {
	db, err := database.OpenClientStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	deviceID, err := client.EnsureDeviceID(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	a := &app{
		db:      db,
		queue:   client.NewQueue(db, deviceID, cfg.MaxRetries, logger),
		store:   client.NewEventStore(db),
		monitor: client.NewNetworkMonitor(client.NewHTTPProbe(cfg.ServerURL), cfg.ProbeInterval, logger),
		socket: client.NewSocket(cfg.ServerURL, deviceID, client.SocketOptions{
			Backoff:     cfg.SocketBackoff,
			BackoffMax:  cfg.SocketBackoffMax,
			MaxAttempts: cfg.SocketMaxAttempts,
		}, logger),
	}
	transport := client.NewTransport(cfg.ServerURL, deviceID, cfg.HTTPTimeout, logger)
	a.syncer = client.NewSyncer(deviceID, a.queue, a.store, transport, a.socket, a.monitor, cfg.FlushInterval, logger)
	return a, nil
}

func (a *app) close() {
	a.socket.Close()
	a.db.Close()
}

func (a *app) run(ctx context.Context) error {
	notes, cancel := a.syncer.Subscribe(64)
	defer cancel()

	go func() {
		for n := range notes {
			printJSON(n)
		}
	}()
	return a.syncer.Run(ctx)
}

func (a *app) status(ctx context.Context) error {
	a.monitor.CheckNow(ctx)
	status, err := a.syncer.Status(ctx)
	if err != nil {
		return err
	}
	return printJSON(status)
}

func (a *app) pending(ctx context.Context) error {
	ops, err := a.queue.List(ctx)
	if err != nil {
		return err
	}
	type row struct {
		*models.SyncOperation
		Kind    models.OperationKind `json:"kind"`
		EventID string               `json:"event_id"`
	}
	rows := make([]row, 0, len(ops))
	for _, op := range ops {
		rows = append(rows, row{SyncOperation: op, Kind: op.Kind(), EventID: op.EventID()})
	}
	return printJSON(rows)
}

func (a *app) list(ctx context.Context) error {
	events, err := a.store.List(ctx)
	if err != nil {
		return err
	}
	return printJSON(events)
}

func (a *app) flush(ctx context.Context) error {
	result, err := a.syncer.Flush(ctx)
	if result != nil {
		printJSON(result)
	}
	return err
}

func (a *app) refresh(ctx context.Context) error {
	if err := a.syncer.Refresh(ctx); err != nil {
		return err
	}
	return a.list(ctx)
}

func (a *app) create(ctx context.Context, opts docopt.Opts) error {
	ev := &models.Event{}
	if err := applyFlags(ev, opts); err != nil {
		return err
	}
	a.monitor.CheckNow(ctx)
	created, err := a.syncer.CreateEvent(ctx, ev)
	if err != nil {
		return err
	}
	return printJSON(created)
}

func (a *app) update(ctx context.Context, opts docopt.Opts) error {
	id, _ := opts.String("<id>")
	current, err := a.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("event %s is not in the local store, run refresh first", id)
	}
	if err := applyFlags(current, opts); err != nil {
		return err
	}
	a.monitor.CheckNow(ctx)
	updated, err := a.syncer.UpdateEvent(ctx, current)
	if err != nil {
		return err
	}
	return printJSON(updated)
}

func (a *app) delete(ctx context.Context, id string) error {
	a.monitor.CheckNow(ctx)
	return a.syncer.DeleteEvent(ctx, id)
}

func (a *app) retry(ctx context.Context, id string) error {
	a.monitor.CheckNow(ctx)
	result, err := a.syncer.RetryOperation(ctx, id)
	if result != nil {
		printJSON(result)
	}
	return err
}

// applyFlags copies the event fields given on the command line onto ev.
func applyFlags(ev *models.Event, opts docopt.Opts) error {
	if v, err := opts.String("--name"); err == nil {
		ev.Name = v
	}
	if v, err := opts.String("--category"); err == nil {
		ev.Category = models.Category(v)
	}
	if v, err := opts.String("--venue"); err == nil {
		ev.Venue = v
	}
	if v, err := opts.String("--address"); err == nil {
		ev.Address = v
	}
	if v, err := opts.String("--description"); err == nil {
		ev.Description = v
	}
	if v, err := opts.String("--start"); err == nil {
		start, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return fmt.Errorf("invalid --start: %w", err)
		}
		ev.StartTime = start.UTC()
	}
	if _, err := opts.String("--lat"); err == nil {
		lat, err := opts.Float64("--lat")
		if err != nil {
			return fmt.Errorf("invalid --lat: %w", err)
		}
		ev.Latitude = lat
	}
	if _, err := opts.String("--long"); err == nil {
		long, err := opts.Float64("--long")
		if err != nil {
			return fmt.Errorf("invalid --long: %w", err)
		}
		ev.Longitude = long
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
