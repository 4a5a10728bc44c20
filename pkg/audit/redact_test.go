package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultRedactor() *Redactor {
	return NewRedactor([]string{
		"password", "token", "jwt", "authorization",
		"cookie", "session", "secret", "key", "private",
	})
}

func TestRedactor_MasksSensitiveKeys(t *testing.T) {
	r := defaultRedactor()

	payload := map[string]interface{}{
		"title":    "Launch post",
		"password": "hunter2",
		"author": map[string]interface{}{
			"name":         "Jane Editor",
			"sessionToken": "abc-123",
		},
	}

	redacted, err := r.Redact(payload)
	require.NoError(t, err)

	out := redacted.(map[string]interface{})
	assert.Equal(t, "Launch post", out["title"])
	assert.Equal(t, MaskToken, out["password"])

	author := out["author"].(map[string]interface{})
	assert.Equal(t, "Jane Editor", author["name"])
	assert.Equal(t, MaskToken, author["sessionToken"])
}

func TestRedactor_CaseInsensitiveSubstringMatch(t *testing.T) {
	r := defaultRedactor()

	for _, key := range []string{"PASSWORD", "currentPassword", "Api_Key", "refreshToken", "PRIVATE_NOTES"} {
		assert.True(t, r.Sensitive(key), "expected %q to match", key)
	}
	for _, key := range []string{"title", "author", "status"} {
		assert.False(t, r.Sensitive(key), "expected %q not to match", key)
	}
}

func TestRedactor_WalksArrays(t *testing.T) {
	r := defaultRedactor()

	payload := map[string]interface{}{
		"users": []interface{}{
			map[string]interface{}{"name": "a", "password": "x"},
			map[string]interface{}{"name": "b", "password": "y"},
		},
		"tags": []interface{}{"one", "two"},
	}

	redacted, err := r.Redact(payload)
	require.NoError(t, err)

	users := redacted.(map[string]interface{})["users"].([]interface{})
	for _, u := range users {
		assert.Equal(t, MaskToken, u.(map[string]interface{})["password"])
	}
	// Plain string elements have no keys to match and pass through.
	tags := redacted.(map[string]interface{})["tags"].([]interface{})
	assert.Equal(t, []interface{}{"one", "two"}, tags)
}

func TestRedactor_DoesNotMutateInput(t *testing.T) {
	r := defaultRedactor()

	payload := map[string]interface{}{
		"password": "hunter2",
		"nested":   map[string]interface{}{"token": "abc"},
	}

	_, err := r.Redact(payload)
	require.NoError(t, err)

	assert.Equal(t, "hunter2", payload["password"])
	assert.Equal(t, "abc", payload["nested"].(map[string]interface{})["token"])
}

func TestRedactor_Idempotent(t *testing.T) {
	r := defaultRedactor()

	payload := map[string]interface{}{"password": "hunter2"}

	once, err := r.Redact(payload)
	require.NoError(t, err)
	twice, err := r.Redact(once)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestRedactor_ScalarsPassThrough(t *testing.T) {
	r := defaultRedactor()

	for _, payload := range []interface{}{nil, "a string", 42.0, true} {
		out, err := r.Redact(payload)
		require.NoError(t, err)
		assert.Equal(t, payload, out)
	}
}

func TestRedactor_ExcessiveNestingFails(t *testing.T) {
	r := defaultRedactor()

	payload := map[string]interface{}{}
	current := payload
	for i := 0; i < maxPayloadDepth+10; i++ {
		next := map[string]interface{}{}
		current["nested"] = next
		current = next
	}

	_, err := r.Redact(payload)
	require.Error(t, err)

	var malformed *MalformedPayloadError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, maxPayloadDepth, malformed.Depth)
}
