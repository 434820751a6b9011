package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_JSONInProduction(t *testing.T) {
	var buf bytes.Buffer
	Init(false, &buf, "")

	WithFields(logrus.Fields{"subnet": "lab"}).Info("claimed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "claimed", line["msg"])
	assert.Equal(t, "lab", line["subnet"])
}

func TestInit_DebugLevel(t *testing.T) {
	var buf bytes.Buffer
	Init(true, &buf, "")

	Log().Debug("probe detail")
	assert.Contains(t, buf.String(), "probe detail")
}

func TestInit_WritesFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "ipam.log")
	Init(false, &buf, path)
	t.Cleanup(func() { Init(false, os.Stdout, "") })

	Log().Info("to file")

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "to file")
	assert.Contains(t, buf.String(), "to file")
}
