package worker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOutput(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"single document", `{"success":true}`, `{"success":true}`, false},
		{"surrounding whitespace", "\n  {\"a\":1}\n\n", `{"a":1}`, false},
		{"pretty printed", "{\n  \"a\": 1\n}", "{\n  \"a\": 1\n}", false},
		{"log lines first", "loading\n{\"a\":1}\n", `{"a":1}`, false},
		{"last object wins", "{\"a\":1}\n{\"a\":2}", `{"a":2}`, false},
		{"trailing text", "{\"a\":1}\ndone", `{"a":1}`, false},
		{"truncated object", "{\"a\":", "", true},
		{"empty", "   ", "", true},
		{"array", `[1,2]`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseOutput([]byte(tt.in))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestCheckEnvelope(t *testing.T) {
	assert.NoError(t, checkEnvelope([]byte(`{"success":true}`)))
	assert.NoError(t, checkEnvelope([]byte(`{"explanation":"x"}`)))
	assert.EqualError(t, checkEnvelope([]byte(`{"success":false}`)), "worker reported success=false")
	assert.ErrorContains(t, checkEnvelope([]byte(`{"success":false,"error":"oom"}`)), "oom")
}

func TestLimitedBuffer(t *testing.T) {
	b := &limitedBuffer{max: 4}
	n, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	_, _ = b.Write([]byte("gh"))
	assert.Equal(t, "abcd", b.String())
	assert.True(t, b.truncated)

	unbounded := &limitedBuffer{}
	_, _ = unbounded.Write([]byte("abcdef"))
	assert.False(t, unbounded.truncated)
}

func TestNoiseFilter(t *testing.T) {
	f := NewNoiseFilter([]string{"FutureWarning", "", "tokenizers"})
	lines := f.Lines("FutureWarning: x\r\nreal problem\n\n  \nhuggingface/tokenizers: fork\nanother\n")
	assert.Equal(t, []string{"real problem", "another"}, lines)

	var nilFilter *NoiseFilter
	assert.Equal(t, []string{"a"}, nilFilter.Lines("a"))
}

func TestStageErrors(t *testing.T) {
	timeout := StageTimeoutError("contradiction", 90*time.Second)
	assert.Equal(t, FailureTimeout, timeout.Kind)
	assert.Equal(t, "contradiction worker timeout: no response within 1m30s", timeout.Error())
	assert.True(t, IsTimeout(timeout))

	cause := errors.New("exec: not found")
	spawn := StageSpawnError("synthesis", cause)
	assert.ErrorIs(t, spawn, cause)
	assert.Equal(t, FailureSpawn, KindOf(spawn))

	assert.Equal(t, FailureParse, KindOf(StageParseError("x", cause)))
	assert.Equal(t, FailureNone, KindOf(cause))
	assert.False(t, IsTimeout(nil))
}

func TestResultKind(t *testing.T) {
	assert.Equal(t, FailureNone, Result{Success: true}.Kind())
	assert.Equal(t, FailureNonzeroExit, Failed(StageExitError("q", 1, "")).Kind())
	assert.Equal(t, FailureNone, Result{}.Kind())
}
