package logger

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Check(t *testing.T) {
	assert.NoError(t, DefaultConfig.Check())

	c := DefaultConfig
	c.Level = "loud"
	assert.ErrorContains(t, c.Check(), "log.level")

	c = DefaultConfig
	c.Format = "xml"
	assert.ErrorContains(t, c.Check(), "log.format")

	c = DefaultConfig
	c.Timestamp = "sometimes"
	assert.ErrorContains(t, c.Check(), "log.timestamp")
}

func TestConfig_Merge(t *testing.T) {
	c := DefaultConfig.Merge(Config{Level: "debug", Caller: true})
	assert.Equal(t, Config{
		Level:     "debug",
		Format:    "human",
		Timestamp: "short",
		Caller:    true,
	}, c)
	assert.Equal(t, DefaultConfig, DefaultConfig.Merge(Config{}))
}

func TestConfigureLogger(t *testing.T) {
	l := logrus.New()
	var buf bytes.Buffer
	l.SetOutput(&buf)

	ConfigureLogger(l, Config{Level: "warning", Format: "human", Timestamp: "disable"})
	assert.Equal(t, logrus.WarnLevel, l.GetLevel())

	l.WithField("group", "main").WithField("component", "sender").Warn("hello")
	assert.Contains(t, buf.String(), "[main/sender")
	assert.Contains(t, buf.String(), "hello")

	buf.Reset()
	l.Info("dropped")
	assert.Empty(t, buf.String())

	buf.Reset()
	ConfigureLogger(l, Config{Level: "info", Format: "json", Timestamp: "disable"})
	l.WithField("group", "main").Info("json")
	require.NotEmpty(t, buf.String())
	assert.Contains(t, buf.String(), `"group":"main"`)
	assert.NotContains(t, buf.String(), "[main")
}

func TestRegisterFlags(t *testing.T) {
	defer func() { FlagConfig = Config{} }()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--log-format=json", "--log-caller"}))

	c := DefaultConfig.Merge(FlagConfig)
	assert.Equal(t, "json", c.Format)
	assert.Equal(t, "info", c.Level)
	assert.True(t, c.Caller)
	assert.NoError(t, c.Check())
}
