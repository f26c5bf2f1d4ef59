// Command console connects to the dashboard backend, optionally launches a
// task, and tracks the resulting universe live until the run finalizes.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/mecanolabs/jarvis-console/internal/apiclient"
	"github.com/mecanolabs/jarvis-console/internal/archive"
	"github.com/mecanolabs/jarvis-console/internal/config"
	"github.com/mecanolabs/jarvis-console/internal/event"
	"github.com/mecanolabs/jarvis-console/internal/feed"
	"github.com/mecanolabs/jarvis-console/internal/multiverse"
	"github.com/mecanolabs/jarvis-console/internal/policy"
	"github.com/mecanolabs/jarvis-console/internal/tracker"
)

func main() {
	task := flag.String("task", "", "Task description to launch and track")
	universeID := flag.String("universe", "", "Track an already-running universe by id")
	flag.Parse()

	log.SetFlags(log.Ltime)
	cfg := config.Load()

	api := apiclient.NewClient(cfg.APIURL, cfg.HTTPTimeout)
	store := multiverse.NewStore(cfg.EventLogCapacity)
	trk := tracker.New(api, tracker.Options{
		PollInterval:     cfg.PollInterval,
		PollInitialDelay: cfg.PollInitialDelay,
		PollRetryDelay:   cfg.PollRetryDelay,
		FinalizeGrace:    cfg.FinalizeGrace,
		LogCapacity:      cfg.EventLogCapacity,
	})

	var recorder *archive.Recorder
	if cfg.ArchivePath != "" {
		db, err := archive.NewSQLiteArchive(cfg.ArchivePath)
		if err != nil {
			log.Fatalf("Failed to open archive: %v", err)
		}
		defer db.Close()

		engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
		if err != nil {
			log.Fatalf("Failed to initialize retention policy: %v", err)
		}
		recorder = archive.NewRecorder(db, engine)
	}

	channel := feed.NewChannel(cfg.FeedURL, cfg.ReconnectDelay)
	channel.SetHandler(func(env *event.Envelope) {
		store.Apply(env)
		trk.HandleEnvelope(env)
		if recorder != nil && env.Type != event.TypeSnapshot {
			recorder.Record(env)
		}
		printEnvelope(env)
	})
	channel.OnStatus(func(connected bool) {
		store.SetConnected(connected)
		trk.SetConnected(connected)
		if connected {
			log.Printf("Connected to feed")
		} else {
			log.Printf("Feed disconnected")
		}
	})
	channel.Start()
	defer channel.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	switch {
	case *task != "":
		ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
		resp, err := api.LaunchTask(ctx, &apiclient.LaunchRequest{Description: *task})
		cancel()
		if err != nil {
			log.Fatalf("Failed to launch task: %v", err)
		}
		log.Printf("Launched universe %s on worker %s", resp.UniverseID, resp.WorkerName)
		trk.Track(resp.UniverseID, tracker.WorkerMeta{
			ID:      resp.WorkerID,
			Name:    resp.WorkerName,
			Address: resp.WorkerAddress,
		})
		waitForRun(trk, interrupt)

	case *universeID != "":
		trk.Track(*universeID, tracker.WorkerMeta{})
		waitForRun(trk, interrupt)

	default:
		// Dashboard mode: just watch the full feed until interrupted.
		log.Printf("Watching all universes (Ctrl+C to exit)")
		<-interrupt
		printUniverses(store)
	}
}

func waitForRun(trk *tracker.Tracker, interrupt chan os.Signal) {
	select {
	case <-trk.Done():
		snap := trk.DoneSnapshot()
		if snap.Error != "" {
			log.Printf("Run failed: %s", snap.Error)
		} else {
			log.Printf("Run completed")
		}
		formatted, _ := json.MarshalIndent(snap, "", "  ")
		fmt.Printf("\nFinal snapshot:\n%s\n", string(formatted))
	case <-interrupt:
		log.Printf("Interrupted")
	}
}

func printEnvelope(env *event.Envelope) {
	switch env.Type {
	case event.TypeSnapshot:
		return
	case event.TypeLLMResponse:
		var data event.LLMResponseData
		if env.DecodeData(&data) == nil && data.Text != "" {
			fmt.Printf("[%s] %s: %s\n", env.Type, env.AgentName, data.Text)
			return
		}
	}
	fmt.Printf("[%s] universe=%s agent=%s\n", env.Type, short(env.UniverseID), env.AgentName)
}

func printUniverses(store *multiverse.Store) {
	universes := store.Universes()
	fmt.Printf("\n%d universe(s) observed:\n", len(universes))
	for _, u := range universes {
		fmt.Printf("  %s  %-12s  %s  (%d agents, v%d)\n",
			short(u.UniverseID), u.Status, u.Name, len(u.Agents), u.StateVersion)
	}
}

func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
