package pattern

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher_Match(t *testing.T) {
	testCases := []struct {
		key            string
		shouldMatch    []string
		shouldNotMatch []string
	}{
		{
			key:            "a.b.*",
			shouldMatch:    []string{"a.b.c", "a.b.created", "a.b.C_1"},
			shouldNotMatch: []string{"a.b.c.d", "a.b.", "a.b", "a.x.c"},
		},
		{
			key:            "a.#",
			shouldMatch:    []string{"a.b", "a.b.c.d", "a.b_c.d1"},
			shouldNotMatch: []string{"a", "a.", "b.c", "ab.c"},
		},
		{
			key:            "a.b.c",
			shouldMatch:    []string{"a.b.c"},
			shouldNotMatch: []string{"aXb.c", "a.b.c.d", "a.b", "a.b.cc"},
		},
		{
			key:            "*",
			shouldMatch:    []string{"orders", "users", "x"},
			shouldNotMatch: []string{"orders.created", "", "orders-v2"},
		},
		{
			key:            "#",
			shouldMatch:    []string{"a", "a.b", "a.b.c"},
			shouldNotMatch: []string{"", "a-b"},
		},
		{
			key:            "*.created",
			shouldMatch:    []string{"orders.created", "user.created"},
			shouldNotMatch: []string{"orders.updated", "orders.created.v2", "created", "a.b.created"},
		},
		{
			key:            "#.created",
			shouldMatch:    []string{"orders.created", "a.b.created"},
			shouldNotMatch: []string{"created", ".created.x"},
		},
		{
			key:            "orders.*.event",
			shouldMatch:    []string{"orders.payment.event", "orders.shipping.event"},
			shouldNotMatch: []string{"orders.created", "inventory.payment.event", "orders.payment.event.v2"},
		},
		{
			key:            "a*",
			shouldMatch:    []string{"ab", "abc"},
			shouldNotMatch: []string{"a", "b", "a.b"},
		},
		{
			key:            "a-b.*",
			shouldMatch:    []string{"a-b.c"},
			shouldNotMatch: []string{"a-b.c-d", "a_b.c"},
		},
		{
			key:            "",
			shouldMatch:    []string{""},
			shouldNotMatch: []string{"a", "."},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.key, func(t *testing.T) {
			m := Compile(tc.key)
			for _, rk := range tc.shouldMatch {
				assert.True(t, m.Match(rk), "key %q should match routing key %q", tc.key, rk)
			}
			for _, rk := range tc.shouldNotMatch {
				assert.False(t, m.Match(rk), "key %q should not match routing key %q", tc.key, rk)
			}
		})
	}
}

// Wildcard characters are always wildcards; a routing key containing a
// literal "*" or "#" never matches a binding key that spells it out.
func TestMatcher_LiteralWildcardsUnsupported(t *testing.T) {
	assert.False(t, Compile("price.*").Match("price.*"))
	assert.False(t, Compile("a#b").Match("a#b"))
	assert.False(t, Compile("a.#").Match("a.#"))

	// They still behave as wildcards against ordinary keys.
	assert.True(t, Compile("a#b").Match("a.x.b"))
}

// regexpFor is the character-level regular expression translation of a
// binding key. It is exact for keys built from word characters, dots and
// wildcards, so it serves as a reference for the token matcher.
func regexpFor(key string) *regexp.Regexp {
	expr := strings.ReplaceAll(key, ".", `\.`)
	expr = strings.ReplaceAll(expr, "#", `(\w|\.)+`)
	expr = strings.ReplaceAll(expr, "*", `\w+`)
	return regexp.MustCompile("^" + expr + "$")
}

func TestMatcher_AgreesWithRegexpTranslation(t *testing.T) {
	keys := []string{
		"a", "a.b", "*", "#", "a.*", "a.#", "*.b", "#.b", "*.*", "#.#",
		"a.*.c", "a.#.c", "*#", "#*", "a*b", "a#b", "*.#.*", "ab.*c.#",
	}
	routingKeys := []string{
		"", ".", "a", "b", "ab", "a.b", "a.c", "a.b.c", "a.x.y.c", "a..c",
		"abc.b", "x.b", "a.b.c.d", "a_1.b", "ab.zc.q", "ab.c.q", "a.b.", ".a.b",
	}

	for _, key := range keys {
		m := Compile(key)
		re := regexpFor(key)
		for _, rk := range routingKeys {
			assert.Equal(t, re.MatchString(rk), m.Match(rk),
				"binding key %q, routing key %q", key, rk)
		}
	}
}

func TestMatcher_AdjacentWildcardsDoNotBacktrackExponentially(t *testing.T) {
	key := strings.Repeat("#.", 12) + "x"
	routingKey := strings.Repeat("a.", 40) + "y"

	done := make(chan bool, 1)
	go func() {
		done <- Compile(key).Match(routingKey)
	}()

	select {
	case matched := <-done:
		assert.False(t, matched)
	case <-time.After(2 * time.Second):
		t.Fatal("match did not complete in time")
	}
}

func TestMatcher_Key(t *testing.T) {
	m := Compile("orders.#")
	assert.Equal(t, "orders.#", m.Key())
	assert.Equal(t, "orders.#", m.String())
}

func TestCompiler_CachesMatchers(t *testing.T) {
	c := NewCompiler(time.Minute, 8)
	defer c.Close()

	first := c.Compile("orders.*")
	second := c.Compile("orders.*")
	require.Same(t, first, second)
	assert.Equal(t, 1, c.Len())

	c.Compile("orders.#")
	assert.Equal(t, 2, c.Len())

	require.NoError(t, c.Close())
	assert.Equal(t, 0, c.Len())
}

func TestCompiler_CapacityBound(t *testing.T) {
	c := NewCompiler(time.Minute, 2)
	defer c.Close()

	c.Compile("a")
	c.Compile("b")
	c.Compile("c")

	assert.Equal(t, 2, c.Len())
	assert.True(t, c.Compile("a").Match("a"))
}

func TestCompiler_Defaults(t *testing.T) {
	c := NewCompiler(0, 0)
	defer c.Close()

	assert.True(t, c.Compile("x.*").Match("x.y"))
	c.Purge()
	assert.Equal(t, 1, c.Len())
}

func TestCompiler_ExpiresUnusedMatchers(t *testing.T) {
	c := NewCompiler(20*time.Millisecond, 8)
	c.Start()
	c.Start()

	c.Compile("orders.*")
	c.Compile("orders.#")

	assert.Eventually(t, func() bool {
		return c.Len() == 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	// Still usable after Close; Start is a no-op
	c.Start()
	assert.True(t, c.Compile("a.*").Match("a.b"))
}
