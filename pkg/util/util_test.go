package util

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnowflakeJSON(t *testing.T) {
	assert := assert.New(t)

	out, err := json.Marshal(Snowflake(1141746562922459136))
	require.NoError(t, err)
	assert.Equal(`"1141746562922459136"`, string(out))

	var s Snowflake
	assert.NoError(json.Unmarshal([]byte(`"42"`), &s))
	assert.Equal(Snowflake(42), s)
	assert.NoError(json.Unmarshal([]byte(`43`), &s))
	assert.Equal(Snowflake(43), s)
	assert.NoError(json.Unmarshal([]byte(`null`), &s))
	assert.True(s.IsZero())
	assert.Error(json.Unmarshal([]byte(`"abc"`), &s))
}

func TestRequestTokenStable(t *testing.T) {
	assert := assert.New(t)
	a := RequestToken("1", "2", "ban", "99")
	assert.Equal(a, RequestToken("1", "2", "ban", "99"))
	assert.NotEqual(a, RequestToken("1", "2", "kick", "99"))
	assert.NotEqual(RequestToken("12", "3"), RequestToken("1", "23"))
	assert.Len(a, 32)
}
