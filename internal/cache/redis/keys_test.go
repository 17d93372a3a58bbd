package redis

import (
	"testing"

	"github.com/alanyoungcy/gannbot/internal/domain"
)

func TestKeysAreNamespaced(t *testing.T) {
	cases := map[string]string{
		lockKey("alpha"):                                  "gannbot:lock:alpha",
		priceKey(domain.PairBTCEUR, domain.SideSell):      "gannbot:price:btceur:sell",
		bookSideKey(domain.PairETHEUR, domain.SideBuy):    "gannbot:book:etheur:buy",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("key = %q, want %q", got, want)
		}
	}
}

func TestHasPattern(t *testing.T) {
	if !hasPattern("gannbot:*") {
		t.Fatalf("glob channel not detected")
	}
	if hasPattern("gannbot:events") {
		t.Fatalf("plain channel detected as pattern")
	}
}
