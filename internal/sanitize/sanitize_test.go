package sanitize

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "What are your hours?", want: "What are your hours?"},
		{name: "empty", in: "", want: ""},
		{name: "apostrophe and ampersand", in: "What's open & when?", want: "What's open & when?"},
		{name: "inline markup", in: "<b>bold</b> move", want: "bold move"},
		{name: "script", in: "hi <script>alert(1)</script>there", want: "hi there"},
		{name: "escaped script stays escaped", in: "&lt;script&gt;", want: "&lt;script&gt;"},
		{name: "bare comparison", in: "1 < 2", want: "1 &lt; 2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Text(tc.in))
		})
	}
}
