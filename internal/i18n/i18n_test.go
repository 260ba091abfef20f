// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

package i18n

import "testing"

func TestInitAndAvailableLocales(t *testing.T) {
	Init("en")
	if GetLang() != "en" {
		t.Fatalf("expected lang 'en', got %q", GetLang())
	}
	av := GetAvailableLocales()
	for _, k := range []string{"en", "de"} {
		if _, ok := av[k]; !ok {
			t.Fatalf("expected available locale %q to be present", k)
		}
	}
	if av["de"] != "Deutsch" {
		t.Fatalf("unexpected display name for de: %q", av["de"])
	}
}

func TestT_BasicAndFormatting(t *testing.T) {
	Init("en")
	if got := T("state.accepted"); got != "Accepted Keys:" {
		t.Fatalf("unexpected translation: %q", got)
	}
	if got := T("msg.key_accepted", "web-1"); got != "Key for minion web-1 accepted." {
		t.Fatalf("unexpected formatted translation: %q", got)
	}
	if got := T("no.such.message"); got != "no.such.message" {
		t.Fatalf("expected fallback to id, got %q", got)
	}
}

func TestSetLang_GermanAndFallback(t *testing.T) {
	SetLang("de")
	defer SetLang("en")
	if got := T("state.rejected"); got != "Abgelehnte Schlüssel:" {
		t.Fatalf("unexpected german translation: %q", got)
	}

	SetLang("xx")
	if got := T("state.rejected"); got != "Rejected Keys:" {
		t.Fatalf("expected english fallback, got %q", got)
	}
}
