package topic

import "testing"

func TestValidate(t *testing.T) {
	cases := []struct {
		in    string
		valid bool
	}{
		{"a", true},
		{"a.b.c.d.e", true},
		{"a.b.c.d.e.f", false}, // depth 6
		{"", false},
		{".a", false},
		{"a.", false},
		{"a..b", false},
		{"a-b", false},
		{"a/b", false},
		{"Test.Message", false}, // must already be canonical/lowercase to validate
		{"test1.message2", true},
	}
	for _, c := range cases {
		err := Validate(c.in)
		if (err == nil) != c.valid {
			t.Errorf("Validate(%q) = %v, want valid=%v", c.in, err, c.valid)
		}
	}
}

func TestValidatePattern(t *testing.T) {
	cases := []struct {
		in    string
		valid bool
	}{
		{"a.+.c", true},
		{"a.#", true},
		{"a.#.b", false}, // # must be last
		{"+.+.+.+.+", true},
		{"a.+.+.+.+.+", false}, // depth 6
	}
	for _, c := range cases {
		err := ValidatePattern(c.in)
		if (err == nil) != c.valid {
			t.Errorf("ValidatePattern(%q) = %v, want valid=%v", c.in, err, c.valid)
		}
	}
}

func TestCanonicalizeAndMaxLength(t *testing.T) {
	if Canonicalize("ABC.Def") != "abc.def" {
		t.Fatal("canonicalize should lower-case")
	}
	long := make([]byte, MaxLength+1)
	for i := range long {
		long[i] = 'a'
	}
	if err := Validate(string(long)); err == nil {
		t.Fatal("expected error for topic exceeding MaxLength")
	}
}

func TestIsSystem(t *testing.T) {
	if !IsSystem("system.heartbeat") {
		t.Fatal("expected system.heartbeat to be a system topic")
	}
	if IsSystem("test.message") {
		t.Fatal("test.message should not be a system topic")
	}
}
