package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/retailpos/retailpos/internal/app"
	_ "github.com/retailpos/retailpos/internal/testing/guard"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	require.NotPanics(t, main)
}
