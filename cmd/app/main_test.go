package main

import (
	"errors"
	"fmt"
	"testing"

	"TradeLoop/internal/di"
	"TradeLoop/pkg/server"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: dial: %w", di.ErrBrokerInit, errors.New("refused")), exitBroker},
		{fmt.Errorf("%w: journal: %w", di.ErrStoreInit, errors.New("down")), exitStore},
		{fmt.Errorf("%w: journal: %w", server.ErrStoreStart, errors.New("down")), exitStore},
		{fmt.Errorf("%w: calibration queue: %w", server.ErrStoreStart, errors.New("ping")), exitStore},
		{fmt.Errorf("%w: %w", server.ErrListen, errors.New("address in use")), exitConfig},
		{errors.New("missing models dir"), exitConfig},
	}
	for _, c := range cases {
		if got := exitCode(c.err); got != c.want {
			t.Fatalf("exitCode(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
