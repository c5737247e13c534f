package dialogue

import "testing"

func TestMarkerClassifier(t *testing.T) {
	c := NewMarkerClassifier()

	cases := []struct {
		name string
		text string
		want bool
	}{
		{"plain question", "What fields should the input have?", false},
		{"enough information phrase", "I now have enough information to create your data schema.", true},
		{"designed phrase", "Here's what I've designed based on our discussion:", true},
		{"fenced block only", "Sure:\n```json\n{\"a\":1}\n```", true},
		{"empty", "", false},
		{"unrelated fence", "```python\nprint(1)\n```", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.SchemaReady(tc.text); got != tc.want {
				t.Fatalf("SchemaReady(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

func TestMarkerClassifierCustomMarkers(t *testing.T) {
	c := NewMarkerClassifierWith([]string{"SCHEMA READY"})

	if !c.SchemaReady("ok SCHEMA READY now") {
		t.Fatalf("expected custom marker to match")
	}
	if c.SchemaReady("I now have enough information") {
		t.Fatalf("default markers should not apply to a custom set")
	}
}
