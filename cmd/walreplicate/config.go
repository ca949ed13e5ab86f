package main

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// demoConfig mirrors the tunables of walcore.Config, publisher.Config,
// and client.Config for the CLI demo. cmd/walreplicate is the only
// place viper/cobra are allowed to touch configuration: the library
// packages themselves take plain structs and functional options, never
// flags or env vars directly (SPEC_FULL.md's Configuration section).
type demoConfig struct {
	Subscribers            int
	Records                int
	SubscriberTimeout       time.Duration
	GCExpireDuration        time.Duration
	MaxLogSize              int
	GCLogSize               int
	EnableHoleLog           bool
	EnableLastBroadcastGone bool
}

func bindFlags(flags *pflag.FlagSet) {
	flags.Int("subscribers", 3, "number of demo subscribers to create")
	flags.Int("records", 10, "number of demo log records to publish")
	flags.Duration("subscriber-timeout", 5*time.Second, "heartbeat timeout before a subscriber is reaped")
	flags.Duration("gc-expire", 0, "age after which a record becomes GC-eligible (0 disables)")
	flags.Int("max-log-size", 0, "hard cap on live record count (0 disables)")
	flags.Int("gc-log-size", 0, "soft floor GC never shrinks below")
	flags.Bool("enable-hole-log", true, "capture records inserted behind the broadcast bound")
	flags.Bool("enable-last-broadcast-for-removed-subscriber", true, "deliver one final broadcast to a just-removed subscriber")
}

func loadConfig(v *viper.Viper) demoConfig {
	return demoConfig{
		Subscribers:             v.GetInt("subscribers"),
		Records:                 v.GetInt("records"),
		SubscriberTimeout:       v.GetDuration("subscriber-timeout"),
		GCExpireDuration:        v.GetDuration("gc-expire"),
		MaxLogSize:              v.GetInt("max-log-size"),
		GCLogSize:               v.GetInt("gc-log-size"),
		EnableHoleLog:           v.GetBool("enable-hole-log"),
		EnableLastBroadcastGone: v.GetBool("enable-last-broadcast-for-removed-subscriber"),
	}
}
