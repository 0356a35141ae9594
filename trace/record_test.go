package trace

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/joeycumines/go-scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_AppendJSON(t *testing.T) {
	ts := time.Date(2024, time.January, 1, 0, 0, 0, 5, time.UTC)
	r := NewRecord(`run-1`, scheduler.TaskEvent{
		Time:        ts,
		Err:         errors.New("bad \"quote\"\n"),
		Delay:       time.Millisecond * 5,
		Elapsed:     time.Microsecond * 5500,
		RunDuration: time.Millisecond,
		Kind:        scheduler.TaskEventFailed,
		TaskID:      42,
		Priority:    scheduler.PriorityRender,
		Status:      scheduler.TaskCompleted,
		Persistent:  true,
	})

	b := r.AppendJSON([]byte(`prefix `))
	require.Equal(t, `prefix `, string(b[:7]))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b[7:], &decoded))
	assert.Equal(t, map[string]any{
		`time`:       `2024-01-01T00:00:00.000000005Z`,
		`run`:        `run-1`,
		`task`:       `42`,
		`kind`:       `failed`,
		`priority`:   `render`,
		`status`:     `completed`,
		`err`:        "bad \"quote\"\n",
		`delay_ms`:   float64(5),
		`elapsed_ms`: 5.5,
		`run_ms`:     float64(1),
		`persistent`: true,
	}, decoded)
}

func TestRecord_AppendJSON_minimal(t *testing.T) {
	r := Record{Time: time.Unix(0, 0).UTC(), Kind: `queued`}
	assert.Equal(t,
		`{"time":"1970-01-01T00:00:00Z","run":"","task":"0","kind":"queued","priority":"","status":"","delay_ms":0,"elapsed_ms":0,"run_ms":0}`,
		string(r.AppendJSON(nil)),
	)
}
