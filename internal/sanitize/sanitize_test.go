package sanitize

import "testing"

func TestEscape(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello world", "hello world"},
		{"tag and ampersand", "<b>&", "&lt;b&gt;&amp;"},
		{"all six", `&<>"'/`, "&amp;&lt;&gt;&quot;&#x27;&#x2F;"},
		{"script", `<script>alert("x")</script>`, "&lt;script&gt;alert(&quot;x&quot;)&lt;&#x2F;script&gt;"},
		{"existing entity is escaped once", "&amp;", "&amp;amp;"},
		{"unicode untouched", "Cześć 👍", "Cześć 👍"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Escape(tt.in); got != tt.want {
				t.Errorf("Escape(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestEscape_SinglePass(t *testing.T) {
	once := Escape("<b>&")
	if once != "&lt;b&gt;&amp;" {
		t.Fatalf("Escape() = %q", once)
	}
	// A second call escapes the ampersands introduced by the first; callers
	// must therefore escape exactly once, right before storage.
	if twice := Escape(once); twice != "&amp;lt;b&amp;gt;&amp;amp;" {
		t.Errorf("Escape(Escape()) = %q", twice)
	}
}
