package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestChildLoggersCarryTheirField(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})

	appLog := WithApp("shop")
	appLog.Info().Msg("a")
	colorLog := WithColor("green")
	colorLog.Info().Msg("b")
	hostLog := WithHost("10.0.0.5:22")
	hostLog.Info().Msg("c")
	componentLog := WithComponent("prober")
	componentLog.Info().Msg("d")

	out := buf.String()
	for _, want := range []string{
		`"app":"shop"`,
		`"color":"green"`,
		`"host":"10.0.0.5:22"`,
		`"component":"prober"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s:\n%s", want, out)
		}
	}
}

func TestInitLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})

	Debug("hidden")
	Info("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug message emitted at info level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("info message missing at info level")
	}
}
