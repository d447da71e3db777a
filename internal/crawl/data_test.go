package crawl

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScrapedData_MarshalPreservesFieldOrder(t *testing.T) {
	t.Parallel()

	var data ScrapedData
	data.Append("zulu", ScalarValue("last alphabetically"))
	data.Append("alpha", NullValue())
	data.Append("items", ListValue([]string{"one", "two"}))
	data.Append("empty", ListValue(nil))

	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.JSONEq(t, `{"zulu":"last alphabetically","alpha":null,"items":["one","two"],"empty":[]}`, string(raw))

	// Key order must match insertion order, not be alphabetized.
	require.Equal(t, `{"zulu":"last alphabetically","alpha":null,"items":["one","two"],"empty":[]}`, string(raw))
}

func TestScrapedData_UnmarshalRoundTrip(t *testing.T) {
	t.Parallel()

	var data ScrapedData
	data.Append("title", ScalarValue("Welcome"))
	data.Append("description", NullValue())
	data.Append("headings", ListValue([]string{"h1: Welcome", "h2: About"}))

	raw, err := json.Marshal(data)
	require.NoError(t, err)

	var decoded ScrapedData
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, data.Fields, decoded.Fields)
}

func TestScrapedData_UnmarshalRejectsNonObject(t *testing.T) {
	t.Parallel()

	var decoded ScrapedData
	require.Error(t, json.Unmarshal([]byte(`["not","an","object"]`), &decoded))
	require.Error(t, json.Unmarshal([]byte(`"scalar"`), &decoded))
}

func TestScrapedData_Get(t *testing.T) {
	t.Parallel()

	var data ScrapedData
	data.Append("title", ScalarValue("Welcome"))

	v, ok := data.Get("title")
	require.True(t, ok)
	require.Equal(t, ScalarValue("Welcome"), v)

	_, ok = data.Get("missing")
	require.False(t, ok)
	require.Equal(t, 1, data.Len())
}

func TestValue_MarshalShapes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		value Value
		want  string
	}{
		{NullValue(), `null`},
		{ScalarValue(""), `""`},
		{ScalarValue("hello"), `"hello"`},
		{ListValue(nil), `[]`},
		{ListValue([]string{"a", "b"}), `["a","b"]`},
	}
	for _, tc := range cases {
		raw, err := json.Marshal(tc.value)
		require.NoError(t, err)
		require.Equal(t, tc.want, string(raw))
	}
}

func TestValue_UnmarshalShapes(t *testing.T) {
	t.Parallel()

	var v Value
	require.NoError(t, json.Unmarshal([]byte(`null`), &v))
	require.Equal(t, NullValue(), v)

	require.NoError(t, json.Unmarshal([]byte(`"text"`), &v))
	require.Equal(t, ScalarValue("text"), v)

	require.NoError(t, json.Unmarshal([]byte(`["x"]`), &v))
	require.Equal(t, ListValue([]string{"x"}), v)

	require.Error(t, json.Unmarshal([]byte(`42`), &v))
	require.Error(t, json.Unmarshal([]byte(`{"nested":true}`), &v))
}
