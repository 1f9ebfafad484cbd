package provider

import "testing"

func TestChainFirstNonEmptyWins(t *testing.T) {
	var calls []string
	record := func(name, value string) Strategy[string] {
		return Strategy[string]{Name: name, Extract: func(*Page) string {
			calls = append(calls, name)
			return value
		}}
	}
	chain := StringChain("title",
		record("primary", "  "),
		record("secondary", "Brass valve"),
		record("tertiary", "never reached"),
	)

	value, strategy := chain.Run(NewPage(nil, ""))
	if value != "Brass valve" || strategy != "secondary" {
		t.Fatalf("Run = (%q, %q), want (%q, %q)", value, strategy, "Brass valve", "secondary")
	}
	if len(calls) != 2 {
		t.Fatalf("expected short-circuit after the second strategy, calls=%v", calls)
	}
}

func TestChainRecoversPanickingStrategy(t *testing.T) {
	chain := StringChain("title",
		Strategy[string]{Name: "explodes", Extract: func(*Page) string {
			var m map[string]string
			m["boom"] = "x"
			return "unreachable"
		}},
		Strategy[string]{Name: "nil-extract"},
		Strategy[string]{Name: "fallback", Extract: func(*Page) string { return "ok" }},
	)

	value, strategy := chain.Run(NewPage([]byte("<p>x</p>"), ""))
	if value != "ok" || strategy != "fallback" {
		t.Fatalf("Run = (%q, %q), want fallback result", value, strategy)
	}
}

func TestChainAllEmpty(t *testing.T) {
	chain := ListChain("gallery",
		Strategy[[]string]{Name: "none", Extract: func(*Page) []string { return nil }},
		Strategy[[]string]{Name: "empty", Extract: func(*Page) []string { return []string{} }},
	)
	value, strategy := chain.Run(NewPage(nil, ""))
	if value != nil || strategy != "" {
		t.Fatalf("Run = (%v, %q), want zero value and no strategy", value, strategy)
	}
}

func TestPageScriptJSON(t *testing.T) {
	body := []byte(`<script>var x = 1; window.detailData = {"a":{"b":"brace } in string","c":[1,2]}}; more();</script>`)
	page := NewPage(body, "")
	data := page.ScriptJSON("window.detailData")
	if got := lookupString(data, "a", "b"); got != "brace } in string" {
		t.Fatalf("lookupString = %q", got)
	}
	if got := len(lookupSlice(data, "a", "c")); got != 2 {
		t.Fatalf("expected 2 items, got %d", got)
	}
	if page.ScriptJSON("window.missing") != nil {
		t.Fatalf("expected nil for an absent marker")
	}
}

func TestPageVisibleTextSkipsScripts(t *testing.T) {
	page := NewPage([]byte(`<html><head><title>T</title><style>.x{}</style></head><body><p>Material: Steel</p><script>var secret = 1;</script><div>Color:  Red</div></body></html>`), "")
	text := page.VisibleText()
	want := "Material: Steel\nColor: Red"
	if text != want {
		t.Fatalf("VisibleText = %q, want %q", text, want)
	}
}
