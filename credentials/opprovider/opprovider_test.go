package opprovider

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/seedkeeper/credentials"
)

func TestWithOnePassword_RegistersProvider(t *testing.T) {
	r := credentials.NewResolver(WithOnePassword())
	require.NotNil(t, r)
}

func TestRead_RejectsNonOpReference(t *testing.T) {
	_, err := read(context.Background(), config{binary: "op"}, "vault/item")
	require.Error(t, err)
}

func TestRead_UsesConfiguredBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub")
	}

	// stub op that echoes its arguments
	bin := filepath.Join(t.TempDir(), "op")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\necho \"$@\"\n"), 0o755))

	input := `{"tracker": {"cookie": {{ op "op://vault/tracker/cookie" | json }}}}`
	r := credentials.NewResolver(WithOnePassword(WithBinary(bin), WithAccount("family")))
	creds, err := r.ResolveReader(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, "read --no-newline --account family op://vault/tracker/cookie", creds.Tracker.Cookie)
}
