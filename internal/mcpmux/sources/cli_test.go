package sources

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeListScript returns a shell script path that, each time it runs,
// increments a counter file and prints truncated output until the Nth
// invocation, after which it prints two well-formed "name transport status"
// lines. This exercises CLISource.Detect's up-to-3-attempts retry.
func fakeListScript(t *testing.T, counterPath string, succeedOnAttempt int) string {
	t.Helper()
	scriptPath := filepath.Join(t.TempDir(), "fakecli.sh")
	script := `#!/bin/sh
count_file="` + counterPath + `"
n=$(cat "$count_file" 2>/dev/null || echo 0)
n=$((n + 1))
echo "$n" > "$count_file"
if [ "$n" -lt ` + itoa(succeedOnAttempt) + ` ]; then
  echo "truncated"
else
  echo "db stdio connected"
  echo "search stdio disconnected"
fi
`
	require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0o755))
	return scriptPath
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestCLISourceDetectRetriesOnTruncatedOutput(t *testing.T) {
	counter := filepath.Join(t.TempDir(), "count")
	script := fakeListScript(t, counter, 3)
	src := NewCLISource("testtool", "sh", filepath.Join(t.TempDir(), "cfg.yaml"), []string{script}, nil, nil, nil)

	servers, err := src.Detect(context.Background())
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, "db", servers[0].Name)
	assert.Equal(t, "connected", string(servers[0].Status))
	assert.Equal(t, "disconnected", string(servers[1].Status))
}

func TestCLISourceDetectFailsAfterThreeTruncatedAttempts(t *testing.T) {
	counter := filepath.Join(t.TempDir(), "count")
	script := fakeListScript(t, counter, 10) // never succeeds within 3 attempts
	src := NewCLISource("testtool", "sh", filepath.Join(t.TempDir(), "cfg.yaml"), []string{script}, nil, nil, nil)

	_, err := src.Detect(context.Background())
	assert.Error(t, err)
}

func TestLocalSourceRemoveIsAsymmetricNoOp(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "local.yaml")
	src := NewLocalSource(cfgPath, nil)
	require.NoError(t, src.Remove(context.Background(), "anything"))
	_, err := os.Stat(cfgPath)
	assert.True(t, os.IsNotExist(err), "remove must not create or mutate the config blob")
}
