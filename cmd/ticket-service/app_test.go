package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pkt.systems/pslog"

	"qms/ticket-service/internal/config"
	"qms/ticket-service/internal/models"
)

func TestApplyServeFlagsOverridesOnlyChanged(t *testing.T) {
	cmd := newServeCommand(pslog.NoopLogger())
	require.NoError(t, cmd.Flags().Parse([]string{"--store-mode", "actor", "--queue-capacity", "8"}))

	cfg := config.Config{Port: "8080", StoreMode: config.StoreModeLocked, QueueCapacity: 128, EventBuffer: 256, RequestTimeout: 5 * time.Second}
	require.NoError(t, applyServeFlags(cmd.Flags(), &cfg))
	require.Equal(t, config.StoreModeActor, cfg.StoreMode)
	require.Equal(t, 8, cfg.QueueCapacity)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, 5*time.Second, cfg.RequestTimeout)
}

func TestOpenStoreModes(t *testing.T) {
	for _, mode := range []string{config.StoreModeLocked, config.StoreModeActor} {
		t.Run(mode, func(t *testing.T) {
			st, closeStore := openStore(config.Config{StoreMode: mode, QueueCapacity: 4}, nil, nil, nil)
			defer closeStore()

			id, err := st.Add(context.Background(), models.TicketDraft{Title: "T", Description: "D"})
			require.NoError(t, err)
			require.Equal(t, models.TicketID(0), id)
		})
	}
}

func TestBenchReports(t *testing.T) {
	for _, mode := range []string{config.StoreModeLocked, config.StoreModeActor} {
		t.Run(mode, func(t *testing.T) {
			st, closeStore := openStore(config.Config{StoreMode: mode, QueueCapacity: 16}, nil, nil, nil)
			defer closeStore()

			opts := benchOptions{Mode: mode, Workers: 4, Duration: 50 * time.Millisecond, Seed: 7}
			result, err := runBench(context.Background(), st, opts)
			require.NoError(t, err)
			require.Positive(t, result.Ops())

			var out bytes.Buffer
			printBench(&out, opts, result)
			require.Contains(t, out.String(), "ops/s")
		})
	}
}

func TestBenchCommandRejectsUnknownMode(t *testing.T) {
	root := newRootCommand(pslog.NoopLogger())
	root.SetArgs([]string{"bench", "--mode", "sharded", "--duration", "10ms"})
	root.SetOut(&bytes.Buffer{})
	require.Error(t, root.ExecuteContext(context.Background()))
}
