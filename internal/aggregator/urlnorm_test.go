package aggregator

import "testing"

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()

	urls := []string{
		"https://TechCrunch.com/2024/01/15/ai/?utm_source=t&b=2&a=1",
		"http://www.Example.com//foo//bar/",
		"https://example.com/%E6%97%A5%E6%9C%AC/",
	}
	for _, raw := range urls {
		once, err := Normalize(raw, NormalizeOptions{})
		if err != nil {
			t.Fatalf("Normalize(%q): %v", raw, err)
		}
		twice, err := Normalize(once, NormalizeOptions{})
		if err != nil {
			t.Fatalf("Normalize(%q): %v", once, err)
		}
		if once != twice {
			t.Fatalf("not idempotent: %q != %q", once, twice)
		}
	}
}

func TestNormalize_TrackingParamsHostCaseWWWAndQueryOrder(t *testing.T) {
	t.Parallel()

	a, err := Normalize("https://TechCrunch.com/2024/01/15/ai", NormalizeOptions{StripTrailingSlash: true})
	if err != nil {
		t.Fatalf("Normalize a: %v", err)
	}
	b, err := Normalize("https://www.techcrunch.com/2024/01/15/ai/?utm_source=t&fbclid=x&gclid=y", NormalizeOptions{StripTrailingSlash: true})
	if err != nil {
		t.Fatalf("Normalize b: %v", err)
	}
	if a != b {
		t.Fatalf("expected equal normalization, got %q vs %q", a, b)
	}

	c, err := Normalize("https://example.com/path?b=2&a=1", NormalizeOptions{})
	if err != nil {
		t.Fatalf("Normalize c: %v", err)
	}
	d, err := Normalize("https://example.com/path?a=1&b=2", NormalizeOptions{})
	if err != nil {
		t.Fatalf("Normalize d: %v", err)
	}
	if c != d {
		t.Fatalf("expected query-order-insensitive normalization, got %q vs %q", c, d)
	}
}

func TestNormalize_TrailingSlash(t *testing.T) {
	t.Parallel()

	stripped, err := Normalize("https://example.com/a/b/", NormalizeOptions{StripTrailingSlash: true})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if stripped != "https://example.com/a/b" {
		t.Fatalf("unexpected stripped form: %q", stripped)
	}

	root, err := Normalize("https://example.com/", NormalizeOptions{StripTrailingSlash: true})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if root != "https://example.com/" {
		t.Fatalf("bare root should keep its trailing slash, got %q", root)
	}
}

func TestNormalize_HTTPUpgradedToHTTPS(t *testing.T) {
	t.Parallel()

	got, err := Normalize("http://example.com/a", NormalizeOptions{})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got != "https://example.com/a" {
		t.Fatalf("expected scheme upgrade, got %q", got)
	}
}

func TestNormalize_InvalidURL(t *testing.T) {
	t.Parallel()

	cases := []string{"", "   ", "ftp://example.com/a", "not a url at all %%%"}
	for _, raw := range cases {
		if _, err := Normalize(raw, NormalizeOptions{}); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestNormalize_CollapsesSlashesAndReencodesPath(t *testing.T) {
	t.Parallel()

	got, err := Normalize("https://example.com/foo//bar///baz", NormalizeOptions{})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got != "https://example.com/foo/bar/baz" {
		t.Fatalf("unexpected path collapse: %q", got)
	}
}

func TestNormalize_DoubleEncodedJapaneseSegmentIsStable(t *testing.T) {
	t.Parallel()

	raw := "https://example.com/%E6%97%A5%E6%9C%AC%E8%AA%9E"
	once, err := Normalize(raw, NormalizeOptions{})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	twice, err := Normalize(once, NormalizeOptions{})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if once != twice {
		t.Fatalf("expected stable normalization, got %q then %q", once, twice)
	}
}

func TestExtractDomain(t *testing.T) {
	t.Parallel()

	if got := ExtractDomain("https://www.Example.COM/a"); got != "example.com" {
		t.Fatalf("unexpected domain: %q", got)
	}
	if got := ExtractDomain("not a url"); got != "" {
		t.Fatalf("expected empty domain for invalid input, got %q", got)
	}
}

func TestIsSameDomain(t *testing.T) {
	t.Parallel()

	if !IsSameDomain("https://www.example.com/a", "https://example.com/b") {
		t.Fatal("expected same domain across www prefix")
	}
	if IsSameDomain("https://a.com/x", "https://b.com/x") {
		t.Fatal("expected different domains to not match")
	}
}

func TestIsValidURL(t *testing.T) {
	t.Parallel()

	if !IsValidURL("https://example.com") {
		t.Fatal("expected valid https url to be valid")
	}
	if IsValidURL("ftp://example.com") {
		t.Fatal("expected non-http(s) scheme to be invalid")
	}
	if IsValidURL("") {
		t.Fatal("expected empty string to be invalid")
	}
}
