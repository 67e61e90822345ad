package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog/log"
)

func TestInitWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	InitWriter("prod", &buf)
	log.Info().Str("handle", "jan").Msg("login")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if line["env"] != "prod" || line["handle"] != "jan" || line["message"] != "login" {
		t.Errorf("unexpected log line: %v", line)
	}
	if _, ok := line["time"]; !ok {
		t.Error("log line has no timestamp")
	}
}

func TestInitWriter_DebugSuppressedOutsideDev(t *testing.T) {
	var buf bytes.Buffer
	InitWriter("prod", &buf)
	log.Debug().Msg("noisy")
	if buf.Len() != 0 {
		t.Errorf("debug line written in prod: %q", buf.String())
	}
}
