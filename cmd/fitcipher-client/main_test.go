package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fitcipher/fitcipher/client"
	"github.com/fitcipher/fitcipher/keys"
	"github.com/fitcipher/fitcipher/scheme"
	"github.com/fitcipher/fitcipher/service"
)

func TestMenu(t *testing.T) {
	cfg := service.DefaultConfig()
	cfg.Scheme = scheme.TestParametersInsecure
	cfg.Scheme.PlaintextModulus = 0x10001

	svc, err := service.NewService(context.Background(), cfg, service.DiscardLogger())
	require.NoError(t, err)
	ts := httptest.NewServer(svc.Handler())
	defer ts.Close()
	defer svc.Close()

	api, err := client.New(ts.URL)
	require.NoError(t, err)
	session := client.NewSession(svc.Context, api, keys.NewKeyAuthority(svc.Context))
	require.NoError(t, session.Setup(context.Background()))

	in := strings.Join([]string{
		"1", "5", "1",
		"1", "-3",
		"1", "10", "2",
		"1", "x",
		"2",
		"7",
		"3",
	}, "\n") + "\n"

	var out bytes.Buffer
	menu(context.Background(), session, strings.NewReader(in), &out)

	s := out.String()
	require.Contains(t, s, "Running distance must not be negative.")
	require.Contains(t, s, "Please enter a whole number.")
	require.Contains(t, s, "Unknown option.")
	require.Contains(t, s, "Total runs: 2\n")
	require.Contains(t, s, "Total distance: 15\n")
	require.Contains(t, s, "Total hours: 3\n")
}
