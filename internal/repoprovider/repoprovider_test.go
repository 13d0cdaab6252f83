package repoprovider

import "testing"

func TestBranchSlug(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Add login page", "add-login-page"},
		{"Fix bug #123 (urgent!!)", "fix-bug-123-urgent"},
		{"---leading and trailing---", "leading-and-trailing"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := BranchSlug(tt.title); got != tt.want {
			t.Errorf("BranchSlug(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}

func TestBranchSlug_TruncatesToFifty(t *testing.T) {
	title := "this is a very long task title that definitely exceeds fifty characters in length"
	got := BranchSlug(title)
	if len(got) > 50 {
		t.Fatalf("BranchSlug length = %d, want <= 50", len(got))
	}
	if got[len(got)-1] == '-' {
		t.Fatalf("BranchSlug should not end in a dash after truncation, got %q", got)
	}
}

func TestInjectToken_RewritesHTTPSUserinfo(t *testing.T) {
	got, err := injectToken("https://github.com/org/repo.git", "secret-token")
	if err != nil {
		t.Fatal(err)
	}
	want := "https://secret-token@github.com/org/repo.git"
	if got != want {
		t.Errorf("injectToken = %q, want %q", got, want)
	}
}

func TestInjectToken_NoTokenPassesThrough(t *testing.T) {
	got, err := injectToken("https://github.com/org/repo.git", "")
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://github.com/org/repo.git" {
		t.Errorf("injectToken with empty token = %q, want unchanged URL", got)
	}
}

func TestScrubToken_RedactsFromOutput(t *testing.T) {
	out := "fatal: could not push using secret-token here"
	scrubbed := scrubToken(out, "secret-token")
	if scrubbed == out {
		t.Fatal("expected token to be redacted")
	}
	if want := "fatal: could not push using *** here"; scrubbed != want {
		t.Errorf("scrubToken = %q, want %q", scrubbed, want)
	}
}

func TestExtractPRNumber(t *testing.T) {
	n := extractPRNumber("https://github.com/org/repo/pull/42")
	if n != 42 {
		t.Errorf("extractPRNumber = %d, want 42", n)
	}
	if extractPRNumber("not a url") != 0 {
		t.Error("expected 0 for unparseable input")
	}
}
