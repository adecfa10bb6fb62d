package pathid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		want     string
		absolute bool
		wantErr  bool
	}{
		{name: "absolute", input: "/prod/db", want: "/prod/db", absolute: true},
		{name: "relative", input: "prod/db", want: "prod/db", absolute: false},
		{name: "root", input: "/", want: "/", absolute: true},
		{name: "trailing slash", input: "/prod/db/", want: "/prod/db", absolute: true},
		{name: "dot is reserved", input: "/prod/db.primary", wantErr: true},
		{name: "empty segment", input: "/prod//db", wantErr: true},
		{name: "uppercase rejected", input: "/Prod", wantErr: true},
		{name: "leading dash rejected", input: "/-prod", wantErr: true},
		{name: "dashes inside", input: "/my-app/v2-beta", want: "/my-app/v2-beta", absolute: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePath(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.String())
			assert.Equal(t, tt.absolute, p.IsAbsolute())
		})
	}
}

func TestSafeEncodingRoundTrip(t *testing.T) {
	tests := []string{"/", "/app", "/prod/db/primary"}

	for _, raw := range tests {
		p := MustParse(raw)
		decoded, err := ParseSafe(p.Safe())
		require.NoError(t, err)
		assert.True(t, p.Equal(decoded), "round trip of %s via %q", raw, p.Safe())
	}

	assert.Equal(t, "prod_db_primary", MustParse("/prod/db/primary").Safe())
	assert.Equal(t, "", Root.Safe())
}

func TestResolve(t *testing.T) {
	base := MustParse("/parent")

	// Relative ids resolve against the base group.
	assert.Equal(t, "/parent/a", MustParse("a").Resolve(base).String())

	// Absolute ids ignore the base.
	assert.Equal(t, "/a", MustParse("/a").Resolve(base).String())
}

func TestParentChild(t *testing.T) {
	p := MustParse("/prod/db/primary")

	assert.Equal(t, "/prod/db", p.Parent().String())
	assert.Equal(t, "primary", p.Base())
	assert.True(t, p.IsChildOf(MustParse("/prod/db")))
	assert.False(t, p.IsChildOf(MustParse("/prod")))
	assert.True(t, MustParse("/prod").IsPrefixOf(p))

	parents := p.AllParents()
	require.Len(t, parents, 3)
	assert.Equal(t, "/prod/db", parents[0].String())
	assert.Equal(t, "/prod", parents[1].String())
	assert.True(t, parents[2].IsRoot())
}

func TestOrdering(t *testing.T) {
	a := MustParse("/a/b")
	b := MustParse("/a/c")

	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.False(t, a.Less(a))
}

func TestTextMarshalling(t *testing.T) {
	p := MustParse("/prod/db")

	text, err := p.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "/prod/db", string(text))

	var decoded PathID
	require.NoError(t, decoded.UnmarshalText(text))
	assert.True(t, p.Equal(decoded))
}
