package launch_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/apiary/pkg/hive/launch"
	"github.com/tigerroll/apiary/pkg/hive/support/util/exception"
)

const jobYAML = `
name: EmailsByDate
table: emails_sent
input_columns:
  - {name: day, type: STRING}
  - {name: sent, type: BIGINT}
output_columns:
  - {name: day, type: STRING}
  - {name: total, type: BIGINT}
query: SELECT day, SUM(sent) FROM emails_sent WHERE day >= '${APIARY_TEST_SINCE}' GROUP BY day
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadJobFile(t *testing.T) {
	t.Setenv("APIARY_TEST_SINCE", "2014-01-01")
	def, err := launch.LoadJobFile(writeFile(t, "job.yaml", jobYAML))
	require.NoError(t, err)

	assert.Equal(t, "EmailsByDate", def.Name())
	assert.Equal(t, "emails_sent", def.Table())
	assert.Len(t, def.InputColumns(), 2)
	assert.Equal(t, "BIGINT", def.OutputColumns()[1].Type)
	assert.Contains(t, def.Query(), "day >= '2014-01-01'")
}

func TestLoadJobFile_Errors(t *testing.T) {
	_, err := launch.LoadJobFile("")
	assert.True(t, errors.Is(err, exception.ErrConfiguration))

	_, err = launch.LoadJobFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.Is(err, exception.ErrConfiguration))

	_, err = launch.LoadJobFile(writeFile(t, "bad.yaml", "name: [unclosed"))
	assert.True(t, errors.Is(err, exception.ErrConfiguration))

	_, err = launch.LoadJobFile(writeFile(t, "invalid.yaml", "name: X\ntable: emails\ninput_columns:\n  - {name: a, type: NOPE}\n"))
	assert.True(t, errors.Is(err, exception.ErrValidation))
}
