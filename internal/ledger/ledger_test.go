package ledger

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitize_ElidesLongBase64Fields(t *testing.T) {
	longB64 := strings.Repeat("QQ==", 400) // > sanitizeThreshold, base64-looking
	raw, err := json.Marshal(map[string]any{"image": longB64, "note": "keep me"})
	require.NoError(t, err)

	out := Sanitize(raw)

	var v map[string]any
	require.NoError(t, json.Unmarshal(out, &v))
	require.Contains(t, v["image"].(string), "<elided base64")
	require.Equal(t, "keep me", v["note"])
}

func TestSanitize_LeavesShortFieldsAlone(t *testing.T) {
	raw, err := json.Marshal(map[string]any{"prompt": "a short prompt"})
	require.NoError(t, err)

	out := Sanitize(raw)
	require.JSONEq(t, string(raw), string(out))
}

func TestSanitize_RecursesIntoNestedStructures(t *testing.T) {
	longB64 := strings.Repeat("QQ==", 400)
	raw, err := json.Marshal(map[string]any{
		"items": []any{
			map[string]any{"payload": longB64},
		},
	})
	require.NoError(t, err)

	out := Sanitize(raw)
	var v map[string]any
	require.NoError(t, json.Unmarshal(out, &v))
	items := v["items"].([]any)
	first := items[0].(map[string]any)
	require.Contains(t, first["payload"].(string), "<elided base64")
}

func TestSanitize_InvalidJSONPassesThrough(t *testing.T) {
	raw := json.RawMessage(`not json`)
	require.Equal(t, raw, Sanitize(raw))
}

func TestMemoryLedger_RecordsCalls(t *testing.T) {
	l := NewMemoryLedger()
	l.WriteTaskResponse(context.Background(), TaskResponse{TaskID: "t1", Provider: "openai"})
	l.WriteUsageLog(context.Background(), UsageLog{TaskID: "t1", Status: "success"})

	require.Len(t, l.TaskResponses, 1)
	require.Len(t, l.UsageLogs, 1)
	require.Equal(t, "openai", l.TaskResponses[0].Provider)
	require.Equal(t, "success", l.UsageLogs[0].Status)
}
