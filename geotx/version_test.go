package geotx

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckVersionNilExpectedAlwaysOk(t *testing.T) {
	assert.Nil(t, CheckVersion(nil, NumericVersion(1)))
	assert.Nil(t, CheckVersion(nil, NumericVersion(0)))
	assert.Nil(t, CheckVersion(nil, StringVersion("etag-7")))
}

func TestCheckVersionExactMatch(t *testing.T) {
	cases := []struct {
		name     string
		expected VersionToken
		actual   VersionToken
		ok       bool
	}{
		{"numeric equal", NumericVersion(5), NumericVersion(5), true},
		{"numeric differ", NumericVersion(5), NumericVersion(6), false},
		{"string equal", StringVersion("a1"), StringVersion("a1"), true},
		{"string differ", StringVersion("a1"), StringVersion("a2"), false},
		{"string five vs numeric five", StringVersion("5"), NumericVersion(5), false},
		{"numeric five vs string five", NumericVersion(5), StringVersion("5"), false},
		{"zero numeric equal", NumericVersion(0), NumericVersion(0), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expected := tc.expected
			ee := CheckVersion(&expected, tc.actual)
			if tc.ok {
				assert.Nil(t, ee)
				return
			}
			require.NotNil(t, ee)
			assert.Equal(t, KindVersionConflict, ee.Kind)
			assert.Equal(t, tc.expected.Value(), ee.Detail("expected"))
			assert.Equal(t, tc.actual.Value(), ee.Detail("actual"))
		})
	}
}

func TestVersionFromAny(t *testing.T) {
	v, err := VersionFromAny(float64(7))
	require.NoError(t, err)
	assert.True(t, v.IsNumeric())
	assert.Equal(t, int64(7), v.Int64())

	v, err = VersionFromAny("etag-9")
	require.NoError(t, err)
	assert.False(t, v.IsNumeric())
	assert.Equal(t, "etag-9", v.String())

	v, err = VersionFromAny(json.Number("12"))
	require.NoError(t, err)
	assert.Equal(t, int64(12), v.Int64())

	_, err = VersionFromAny(nil)
	assert.Error(t, err)

	_, err = VersionFromAny([]string{"x"})
	assert.Error(t, err)
}

func TestVersionTokenJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(NumericVersion(42))
	require.NoError(t, err)
	assert.Equal(t, "42", string(data))

	var num VersionToken
	require.NoError(t, json.Unmarshal([]byte("42"), &num))
	assert.True(t, num.IsNumeric())
	assert.Equal(t, int64(42), num.Int64())

	data, err = json.Marshal(StringVersion("r-3"))
	require.NoError(t, err)
	assert.Equal(t, `"r-3"`, string(data))

	var str VersionToken
	require.NoError(t, json.Unmarshal([]byte(`"r-3"`), &str))
	assert.False(t, str.IsNumeric())
	assert.Equal(t, "r-3", str.String())

	// 数字经过字符串化后不再等于原 token
	assert.False(t, str.Equal(num))
}
