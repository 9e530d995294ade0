package endpoint

import "testing"

func TestComplete(t *testing.T) {
	cases := []struct {
		name string
		e    Endpoint
		want bool
	}{
		{"complete", New("alice@example.com", "mailim"), true},
		{"empty address", New("", "mailim"), false},
		{"empty port", New("alice@example.com", ""), false},
		{"wildcard address", New("@example.com", "mailim"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.e.Complete(); got != c.want {
				t.Errorf("Complete() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestMatches(t *testing.T) {
	concrete := New("alice@example.com", "mailim")

	cases := []struct {
		name    string
		pattern Endpoint
		other   Endpoint
		want    bool
	}{
		{"empty pattern matches anything", Endpoint{}, concrete, true},
		{"exact match", New("alice@example.com", "mailim"), concrete, true},
		{"exact mismatch", New("bob@example.com", "mailim"), concrete, false},
		{"wildcard domain match", New("@example.com", "mailim"), concrete, true},
		{"wildcard domain mismatch", New("@other.com", "mailim"), concrete, false},
		{"empty port matches any port", New("alice@example.com", ""), concrete, true},
		{"port mismatch", New("alice@example.com", "other"), concrete, false},
		{"wildcard must be suffix of full address", New("@example.com", ""), New("example.com", "mailim"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.pattern.Matches(c.other); got != c.want {
				t.Errorf("Matches() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestIntersects(t *testing.T) {
	cases := []struct {
		name string
		a, b Endpoint
		want bool
	}{
		{"both wildcard address", New("", "mailim"), New("", "mailim"), true},
		{"disjoint wildcard domains", New("@a.com", ""), New("@b.com", ""), false},
		{"a wildcard contains b concrete", New("@example.com", ""), New("alice@example.com", ""), true},
		{"b wildcard contains a concrete", New("alice@example.com", ""), New("@example.com", ""), true},
		{"disjoint ports", New("", "a"), New("", "b"), false},
		{"one empty port intersects any", New("", "a"), New("", ""), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.a.Intersects(c.b); got != c.want {
				t.Errorf("Intersects() = %v, want %v", got, c.want)
			}
			if got := c.b.Intersects(c.a); got != c.want {
				t.Errorf("Intersects() not symmetric: %v, want %v", got, c.want)
			}
		})
	}
}

func TestPairString(t *testing.T) {
	p := Pair{Local: New("alice@example.com", "mailim"), Remote: New("bob@example.com", "mailim")}
	want := "alice@example.com:mailim->bob@example.com:mailim"
	if got := p.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
