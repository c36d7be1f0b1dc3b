package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestNewPingsServer(t *testing.T) {
	srv := miniredis.RunT(t)
	client, err := New(context.Background(), Options{Addr: srv.Addr()})
	require.NoError(t, err)
	require.NoError(t, client.Close())

	srv.Close()
	_, err = New(context.Background(), Options{Addr: srv.Addr(), PingTimeout: 200 * time.Millisecond})
	require.Error(t, err)
}

func TestNewRequiresPassword(t *testing.T) {
	srv := miniredis.RunT(t)
	srv.RequireAuth("s3cret")

	_, err := New(context.Background(), Options{Addr: srv.Addr()})
	require.Error(t, err)

	client, err := New(context.Background(), Options{Addr: srv.Addr(), Password: "s3cret"})
	require.NoError(t, err)
	require.NoError(t, client.Close())
}
