package cli

import (
	"bytes"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/dropship-ops/opsconsole/jobs"
	_ "github.com/dropship-ops/opsconsole/testing"
)

func TestRootRegistersSubcommands(t *testing.T) {
	root := NewRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	require.ElementsMatch(t, []string{"serve", "worker", "migrate", "jobs"}, names)
}

func TestJobsTriggerRejectsUnknownTask(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("REDIS_ADDR", mr.Addr())

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"jobs", "trigger", "reports:rebuild"})
	require.ErrorIs(t, root.Execute(), jobs.ErrUnknownTask)
	require.Contains(t, out.String(), "unknown task type")
}
