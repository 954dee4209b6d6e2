package redact

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visor-agent/visor/pkg/agent"
)

func TestSensitiveKey(t *testing.T) {
	tests := []struct {
		key       string
		sensitive bool
	}{
		{"api_token", true},
		{"password", true},
		{"apiKey", true},
		{"Authorization", true},
		{"session_cookie", true},
		{"client_secret", true},
		{"selector", false},
		{"text", false},
		{"url", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.sensitive, SensitiveKey(tt.key))
		})
	}
}

func TestValue_MasksSensitiveFields(t *testing.T) {
	v := agent.Object(map[string]agent.Value{
		"selector":  agent.String("#login"),
		"api_token": agent.String("tok-12345"),
		"nested": agent.Object(map[string]agent.Value{
			"password": agent.String("hunter2"),
			"username": agent.String("alex"),
		}),
	})

	out := Value(v)

	selector, _ := out.Field("selector")
	assert.Equal(t, "#login", selector.Text())
	apiToken, _ := out.Field("api_token")
	assert.Equal(t, "[REDACTED]", apiToken.Text())
	nested, _ := out.Field("nested")
	password, _ := nested.Field("password")
	assert.Equal(t, "[REDACTED]", password.Text())
	username, _ := nested.Field("username")
	assert.Equal(t, "alex", username.Text())

	// The input value is untouched.
	origToken, _ := v.Field("api_token")
	assert.Equal(t, "tok-12345", origToken.Text())
}

func TestValue_CleanObjectUnchanged(t *testing.T) {
	v := agent.Object(map[string]agent.Value{
		"selector": agent.String("#save"),
		"count":    agent.Number(3),
	})

	out := Value(v)
	selector, _ := out.Field("selector")
	assert.Equal(t, "#save", selector.Text())
	count, _ := out.Field("count")
	n, ok := count.AsNumber()
	require.True(t, ok)
	assert.Equal(t, 3.0, n)
}

func TestScrub(t *testing.T) {
	tests := []struct {
		name  string
		input string
		leaks bool
	}{
		{"anthropic key", "using sk-ant-REDACTED", true},
		{"bearer token", "header Bearer abc.def.ghi", true},
		{"aws key", "creds AKIAIOSFODNN7EXAMPLE1", true},
		{"long token", "blob " + strings.Repeat("a", 48), true},
		{"plain text", "clicked the Save button", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Scrub(tt.input)
			if tt.leaks {
				assert.Contains(t, out, "[REDACTED]")
			} else {
				assert.Equal(t, tt.input, out)
			}
		})
	}
}

func TestPreview_CapsLength(t *testing.T) {
	long := agent.Object(map[string]agent.Value{
		"text": agent.String(strings.Repeat("x", 500)),
	})

	out := Preview(long, 320)
	assert.LessOrEqual(t, len(out), 320+len("..."))
	assert.True(t, strings.HasSuffix(out, "..."))

	short := agent.Object(map[string]agent.Value{"a": agent.String("b")})
	assert.Equal(t, `{"a":"b"}`, Preview(short, 320))
}

func TestWriter_ScrubsOutput(t *testing.T) {
	var buf bytes.Buffer
	w := Writer(&buf)

	payload := []byte(`{"msg":"auth with sk-ant-REDACTED"}`)
	n, err := w.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Contains(t, buf.String(), "[REDACTED]")
	assert.NotContains(t, buf.String(), "sk-ant-")
}
