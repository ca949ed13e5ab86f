// Command walreplicate is a runnable demonstration of the walcore /
// publisher / client trio: it drives one source WALObject through a
// Publisher, fans its tail out over the in-process transport package
// to a configurable number of subscribing Clients, and prints a
// progress report. It is not a server — there is no network listener
// here, matching the library's "replication core, not a daemon"
// framing; a real deployment supplies its own transport and wraps
// these packages instead of shelling out to this binary.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize/english"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/liftbridge-io/walreplicate/client"
	"github.com/liftbridge-io/walreplicate/cmd/walreplicate/transport/inproc"
	"github.com/liftbridge-io/walreplicate/internal/clock"
	"github.com/liftbridge-io/walreplicate/metrics"
	"github.com/liftbridge-io/walreplicate/publisher"
	"github.com/liftbridge-io/walreplicate/subscriber"
	"github.com/liftbridge-io/walreplicate/walcore"
)

// entry is the demo's payload type: a single human-readable note per
// record. Real callers supply their own P/K/A; this demo picks the
// simplest ones that still exercise merge, hole-log, and GC behavior.
type entry struct {
	Note string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "walreplicate",
		Short: "Demonstrates WAL object replication from one publisher to many clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			return run(loadConfig(v))
		},
	}
	bindFlags(cmd.Flags())
	return cmd
}

func run(cfg demoConfig) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	clk := clock.Real{}
	reg := prometheus.NewRegistry()
	rec := metrics.NewPrometheus(reg, "walreplicate", "demo")

	sourceCounter := 0
	wal, err := walcore.NewWALObject[entry, int, string](
		demoVtable(&sourceCounter, logger.Named("source")),
		walcore.Config{
			AcceptLogWhenHashMatched: true,
			GCExpireDuration:         cfg.GCExpireDuration,
			MaxLogSize:               cfg.MaxLogSize,
			GCLogSize:                cfg.GCLogSize,
		},
		walcore.WithLogger[entry, int, string](logger.Named("source")),
	)
	if err != nil {
		return err
	}

	registry := inproc.NewRegistry[entry, int, string, string]()
	pubVT := &publisher.Vtable[entry, int, string, string]{
		SendSnapshot: registry.SendSnapshot,
		SendLogs:     registry.SendLogs,
		SubscribeResponse: func(pub *publisher.Publisher[entry, int, string, string], sub *subscriber.Subscriber[string], code walcore.ResultCode, param any) (walcore.ResultCode, error) {
			return code, nil
		},
		OnSubscriberAdded: func(pub *publisher.Publisher[entry, int, string, string], sub *subscriber.Subscriber[string], param any) {
			logger.Info("subscriber added", zap.String("subscriber", sub.Key))
		},
		OnSubscriberRemoved: func(pub *publisher.Publisher[entry, int, string, string], sub *subscriber.Subscriber[string], reason walcore.UnsubscribeReason, param any) {
			logger.Info("subscriber removed", zap.String("subscriber", sub.Key), zap.String("reason", reason.String()))
		},
	}
	pub, err := publisher.New[entry, int, string, string](wal, pubVT, publisher.Config{
		SubscriberTimeout:                       cfg.SubscriberTimeout,
		EnableHoleLog:                            cfg.EnableHoleLog,
		EnableLastBroadcastForRemovedSubscriber: cfg.EnableLastBroadcastGone,
	}, publisher.WithLogger[entry, int, string, string](logger.Named("publisher")), publisher.WithRecorder[entry, int, string, string](rec))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clients := make([]*client.Client[entry, int, string], 0, cfg.Subscribers)
	now := clk.Now()
	for i := 0; i < cfg.Subscribers; i++ {
		subKey := uuid.New().String()
		repCounter := 0
		repWAL, err := walcore.NewWALObject[entry, int, string](
			demoVtable(&repCounter, logger.Named("replica")),
			walcore.Config{AcceptLogWhenHashMatched: true},
		)
		if err != nil {
			return err
		}

		c, err := client.New[entry, int, string](repWAL, clientVtable(pub, subKey), client.Config{
			HeartbeatInterval:      cfg.SubscriberTimeout / 2,
			HeartbeatRetryInterval: cfg.SubscriberTimeout / 4,
		}, client.WithLogger[entry, int, string](logger.Named("client")), client.WithRecorder[entry, int, string](rec))
		if err != nil {
			return err
		}
		clients = append(clients, c)

		link := inproc.NewLink[entry, int, string](c, 64)
		registry.Add(subKey, link)
		go link.Run(ctx)

		if _, _, err := pub.CreateSubscriber(subKey, now, publisher.Checkpoint[int]{}, nil, nil); err != nil {
			return err
		}
	}

	for i := 0; i < cfg.Records; i++ {
		now = clk.Now()
		log, err := wal.AllocateLog(now, "append", nil, entry{Note: fmt.Sprintf("record-%d", i)})
		if err != nil {
			return err
		}
		if _, err := wal.EmplaceBack(log, nil); err != nil {
			return err
		}
		if _, err := pub.Broadcast(nil); err != nil {
			return err
		}
	}

	now = clk.Now()
	if _, err := pub.Tick(now, nil, 256); err != nil {
		return err
	}

	time.Sleep(20 * time.Millisecond)
	cancel()

	logger.Info("demo complete",
		zap.Int("source_log_count", wal.Len()),
		zap.String("subscribers", english.Plural(len(pub.Subscribers()), "subscriber", "")),
	)
	for i, c := range clients {
		stats := c.Stats()
		fmt.Printf("replica %d: %s, last finished key=%v\n", i,
			english.Plural(stats.LogCount, "record", ""), stats.LastFinishedLogKey)
	}
	return nil
}

// demoVtable builds a walcore.Vtable shared by both the source object
// and every replica: an int key minted from a monotonically
// incrementing counter, a SHA-256 chain over the note text, and a
// single "append" action-case that just logs what landed.
func demoVtable(counter *int, logger *zap.Logger) *walcore.Vtable[entry, int, string] {
	return &walcore.Vtable[entry, int, string]{
		KeyCompare: func(a, b int) int { return a - b },
		GetMeta: func(wal *walcore.WALObject[entry, int, string], log *walcore.LogRecord[entry, int, string]) (walcore.Meta[int, string], error) {
			return log.Meta(), nil
		},
		SetMeta:   func(wal *walcore.WALObject[entry, int, string], log *walcore.LogRecord[entry, int, string], meta walcore.Meta[int, string]) {},
		GetLogKey: func(wal *walcore.WALObject[entry, int, string], log *walcore.LogRecord[entry, int, string]) int { return log.Key() },
		AllocateLogKey: func(wal *walcore.WALObject[entry, int, string], log *walcore.LogRecord[entry, int, string], param any) (int, error) {
			*counter++
			return *counter, nil
		},
		Hasher: walcore.SHA256ChainHash[entry, int, string](func(p entry) []byte { return []byte(p.Note) }),
		MergeLog: func(wal *walcore.WALObject[entry, int, string], param any, existing, incoming *walcore.LogRecord[entry, int, string]) error {
			existing.Payload = incoming.Payload
			return nil
		},
		DefaultDelegate: walcore.Delegate[entry, int, string]{
			Action: func(wal *walcore.WALObject[entry, int, string], log *walcore.LogRecord[entry, int, string], param any) (walcore.ResultCode, error) {
				logger.Debug("applied entry", zap.Int("key", log.Key()), zap.String("note", log.Payload.Note))
				return walcore.KOk, nil
			},
		},
		OnLogActionError: func(wal *walcore.WALObject[entry, int, string], log *walcore.LogRecord[entry, int, string], err error) {
			logger.Warn("log action error", zap.Int("key", log.Key()), zap.Error(err))
		},
	}
}

// clientVtable wires a Client's required callbacks to one publisher
// subscription: snapshot installation replaces the replica's whole
// log set, and every heartbeat re-subscribes from the replica's own
// last finished key.
func clientVtable(pub *publisher.Publisher[entry, int, string, string], subKey string) *client.Vtable[entry, int, string] {
	return &client.Vtable[entry, int, string]{
		OnReceiveSnapshot: func(c *client.Client[entry, int, string], snapshot any, param any) (walcore.ResultCode, error) {
			records, ok := snapshot.([]*walcore.LogRecord[entry, int, string])
			if !ok {
				return walcore.KInvalidParam, walcore.KInvalidParam
			}
			c.WALObject().AssignLogs(records)
			return walcore.KOk, nil
		},
		SubscribeRequest: func(c *client.Client[entry, int, string], param any) (walcore.ResultCode, error) {
			key, _ := c.LastFinishedLogKey()
			return pub.ReceiveSubscribeRequest(subKey, publisher.Checkpoint[int]{Key: key}, time.Now(), param)
		},
	}
}
