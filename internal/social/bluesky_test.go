package social

import "testing"

func TestLinkFacets(t *testing.T) {
	text := "A walk\n#posse\nhttps://blog.example.com/walk/"
	facets := linkFacets(text)
	if len(facets) != 1 {
		t.Fatalf("got %d facets, want 1", len(facets))
	}
	f := facets[0]
	if got := text[f.Index.ByteStart:f.Index.ByteEnd]; got != "https://blog.example.com/walk/" {
		t.Fatalf("facet range covers %q", got)
	}
	if uri := f.Features[0]["uri"]; uri != "https://blog.example.com/walk/" {
		t.Fatalf("facet uri = %q", uri)
	}

	if facets := linkFacets("no links here, just http text"); len(facets) != 0 {
		t.Fatalf("bare 'http' must not facet, got %d", len(facets))
	}

	two := "see https://a.example/x and http://b.example/y now"
	if facets := linkFacets(two); len(facets) != 2 {
		t.Fatalf("got %d facets, want 2", len(facets))
	}
}
