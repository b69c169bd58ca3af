package bot

import "testing"

func TestMainMenuKeyboard(t *testing.T) {
	t.Run("mini app row links to the web app", func(t *testing.T) {
		cfg := Config{WebAppURL: "https://store.example/app"}
		kb := mainMenuKeyboard(cfg)

		last := kb.InlineKeyboard[len(kb.InlineKeyboard)-1]
		if len(last) != 1 {
			t.Fatalf("expected one button in the mini app row, got %d", len(last))
		}
		btn := last[0]
		if btn.URL == nil || *btn.URL != cfg.WebAppURL {
			t.Fatalf("mini app button URL = %v, want %q", btn.URL, cfg.WebAppURL)
		}
	})

	t.Run("no mini app row without a configured URL", func(t *testing.T) {
		kb := mainMenuKeyboard(Config{})
		for _, row := range kb.InlineKeyboard {
			for _, btn := range row {
				if btn.URL != nil {
					t.Fatalf("unexpected URL button %q", btn.Text)
				}
			}
		}
	})
}

func TestFlagEmoji(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"FR", "🇫🇷"},
		{"us", "🇺🇸"},
		{"JP", "🇯🇵"},
		{"X", "🌐"},
		{"", "🌐"},
	}
	for _, tt := range tests {
		if got := flagEmoji(tt.code); got != tt.want {
			t.Errorf("flagEmoji(%q) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestFmtHelpers(t *testing.T) {
	if got := fmtUSD(12500); got != "$1.25" {
		t.Errorf("fmtUSD(12500) = %q, want $1.25", got)
	}
	if got := fmtVolume(3 << 30); got != "3GB" {
		t.Errorf("fmtVolume(3GB) = %q, want 3GB", got)
	}
	if got := fmtVolume(500 << 20); got != "500MB" {
		t.Errorf("fmtVolume(500MB) = %q, want 500MB", got)
	}
	if got := fmtVolume(0); got != "unlimited" {
		t.Errorf("fmtVolume(0) = %q, want unlimited", got)
	}
}
