package ai

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

type KBEntry struct {
	ID       string   `json:"id"`
	Keywords []string `json:"keywords"`
	Answer   string   `json:"answer"`
	Deeplink string   `json:"deeplink,omitempty"`
}

type KnowledgeBase struct {
	entries []KBEntry
}

type ScoredEntry struct {
	Entry KBEntry
	Score int
}

func LoadKnowledgeBase(path string) (*KnowledgeBase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge base: %w", err)
	}

	var entries []KBEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse knowledge base: %w", err)
	}

	return &KnowledgeBase{entries: entries}, nil
}

// DefaultKnowledgeBase covers the storefront's support topics when no KB
// file is configured.
func DefaultKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{entries: []KBEntry{
		{
			ID:       "esim_install",
			Keywords: []string{"install", "installation", "qr", "scan", "add esim", "activate"},
			Answer: "To install your eSIM, open the QR code we sent after purchase, then go to " +
				"Settings > Cellular > Add eSIM on iPhone (or Settings > Connections > SIM manager > Add eSIM on Android) " +
				"and scan the code. Keep Wi-Fi on during installation. Install the eSIM before your trip, " +
				"but only enable data roaming for it once you arrive.",
		},
		{
			ID:       "esim_compatibility",
			Keywords: []string{"compatible", "compatibility", "support", "device", "phone", "unlock", "locked"},
			Answer: "Your phone must be carrier-unlocked and eSIM-capable. To check: dial *#06# and look for an EID number. " +
				"iPhone XS and newer, Samsung S20 and newer, and Google Pixel 3 and newer generally support eSIM.",
		},
		{
			ID:       "esim_no_internet",
			Keywords: []string{"no internet", "not working", "no data", "no connection", "apn", "roaming", "slow"},
			Answer: "If the eSIM is installed but there is no internet: 1) make sure the eSIM line is turned on, " +
				"2) enable Data Roaming for that line, 3) select the eSIM as your mobile data line, " +
				"4) restart the phone. If it still fails, try selecting a network operator manually.",
		},
		{
			ID:       "esim_topup",
			Keywords: []string{"topup", "top up", "top-up", "recharge", "extend", "more data", "add data"},
			Answer: "You can top up an eSIM that is installed or in use: open My eSIMs, pick the eSIM and press Top-up " +
				"to see the plans available for it. A brand-new eSIM that has never been installed cannot be topped up yet.",
		},
		{
			ID:       "esim_cancel_refund",
			Keywords: []string{"cancel", "refund", "money back", "return", "delete order"},
			Answer: "An eSIM can be canceled for a refund only while it has never been installed on a device. " +
				"Open My eSIMs, pick the eSIM and press Cancel. Once the profile has been installed or used, " +
				"the provider no longer accepts cancellation.",
		},
		{
			ID:       "esim_usage",
			Keywords: []string{"usage", "balance", "data left", "remaining", "how much data", "check data"},
			Answer: "To see how much data is left, open My eSIMs and press Check usage on the eSIM. " +
				"Usage is reported for eSIMs that are currently in use; counters can lag a few minutes behind.",
		},
		{
			ID:       "payment_methods",
			Keywords: []string{"pay", "payment", "card", "crypto", "stars", "usdt", "how to buy"},
			Answer: "We accept three payment methods: cryptocurrency through Crypto Bot (USDT, TON, BTC, ETH), " +
				"bank cards through Telegram's built-in payments, and Telegram Stars. " +
				"Pick the method when buying a package.",
		},
		{
			ID:       "payment_not_arrived",
			Keywords: []string{"paid", "payment not", "invoice", "waiting", "pending", "did not receive", "where is my esim"},
			Answer: "If you paid but have not received the eSIM: for crypto payments press \"I've paid\" under the invoice. " +
				"Profile allocation can take up to a minute. If nothing arrives after that, contact support with your " +
				"order number and we will recover the purchase; your payment is never lost.",
		},
		{
			ID:       "plan_duration",
			Keywords: []string{"validity", "expire", "duration", "days", "when start", "period"},
			Answer: "A plan's validity starts when the eSIM first connects to a supported network, not at purchase. " +
				"Daily plans count whole days from first connection; fixed-volume plans last until the data " +
				"or the validity period runs out, whichever comes first.",
		},
	}}
}

func (kb *KnowledgeBase) Entries() []KBEntry {
	if kb == nil {
		return nil
	}
	result := make([]KBEntry, len(kb.entries))
	copy(result, kb.entries)
	return result
}

func (kb *KnowledgeBase) FindBestMatch(question string) (KBEntry, int, bool) {
	if kb == nil {
		return KBEntry{}, 0, false
	}

	lowerQuestion := strings.ToLower(question)

	var best KBEntry
	bestScore := 0
	found := false

	for _, entry := range kb.entries {
		score := scoreEntry(entry, lowerQuestion)
		if !found || score > bestScore {
			best = entry
			bestScore = score
			found = true
		}
	}

	return best, bestScore, found
}

func (kb *KnowledgeBase) TopEntries(question string, limit int) []ScoredEntry {
	if kb == nil || limit <= 0 {
		return nil
	}

	lowerQuestion := strings.ToLower(question)

	scored := make([]ScoredEntry, 0, len(kb.entries))
	for _, entry := range kb.entries {
		score := scoreEntry(entry, lowerQuestion)
		if score <= 0 {
			// irrelevant entries stay out of the LLM context
			continue
		}
		scored = append(scored, ScoredEntry{Entry: entry, Score: score})
	}

	if len(scored) == 0 {
		return nil
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Entry.ID < scored[j].Entry.ID
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}

	return scored
}

func scoreEntry(entry KBEntry, lowerQuestion string) int {
	if lowerQuestion == "" {
		return 0
	}

	score := 0
	for _, kw := range entry.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}

		// full keyword as a substring is a strong match
		if strings.Contains(lowerQuestion, kw) {
			score += 3
			continue
		}

		// stemmed form so "canceled"/"cancellation" still hit "cancel"
		if stem := stemWord(kw); stem != "" && strings.Contains(lowerQuestion, stem) {
			score += 2
		}
	}

	return score
}

// stemWord strips common English suffixes so close word forms share a root.
func stemWord(s string) string {
	if len(s) <= 4 {
		return ""
	}

	suffixes := []string{"ation", "ment", "ing", "ed", "es", "s"}
	for _, suf := range suffixes {
		if len(s) > len(suf)+3 && strings.HasSuffix(s, suf) {
			return s[:len(s)-len(suf)]
		}
	}

	return ""
}
