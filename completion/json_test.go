package completion

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type routeShape struct {
	Tier       string  `json:"tier"`
	Confidence float64 `json:"confidence"`
}

func TestDecodePlainJSON(t *testing.T) {
	out, ok := Decode[routeShape](`{"tier":"trivial","confidence":0.9}`)
	require.True(t, ok)
	require.Equal(t, "trivial", out.Tier)
	require.Equal(t, 0.9, out.Confidence)
}

func TestDecodeFencedJSON(t *testing.T) {
	text := "```json\n{\"tier\":\"data_analysis\",\"confidence\":0.7}\n```"
	out, ok := Decode[routeShape](text)
	require.True(t, ok)
	require.Equal(t, "data_analysis", out.Tier)
}

func TestDecodeEmbeddedJSON(t *testing.T) {
	text := `Sure, here is the result: {"tier":"trivial","confidence":1} — let me know.`
	out, ok := Decode[routeShape](text)
	require.True(t, ok)
	require.Equal(t, "trivial", out.Tier)
}

func TestDecodeBracesInsideStrings(t *testing.T) {
	text := `prefix {"tier":"a{b}c","confidence":0.5} suffix`
	out, ok := Decode[routeShape](text)
	require.True(t, ok)
	require.Equal(t, "a{b}c", out.Tier)
}

func TestDecodeArray(t *testing.T) {
	out, ok := Decode[[]int]("the values are [1,2,3]")
	require.True(t, ok)
	require.Equal(t, []int{1, 2, 3}, out)
}

func TestDecodePlainText(t *testing.T) {
	_, ok := Decode[routeShape]("no json here")
	require.False(t, ok)

	_, ok = Decode[routeShape]("")
	require.False(t, ok)
}
