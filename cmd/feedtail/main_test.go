package main

import (
	"bytes"
	"strings"
	"testing"

	"cfdfeed/config"
	"cfdfeed/internal/stream"
	"cfdfeed/models"
)

func TestFormatBook(t *testing.T) {
	if got := formatBook(nil); got != "book=-" {
		t.Fatalf("formatBook(nil) = %q", got)
	}

	book := &models.OrderBookSnapshot{
		Symbol: "BTC_USDC",
		Bids:   []models.PriceLevel{{Price: "100", Size: "1"}},
		Asks:   []models.PriceLevel{{Price: "100.25", Size: "2"}},
	}
	want := "BTC_USDC bid=1@100 ask=2@100.25 spread=0.25"
	if got := formatBook(book); got != want {
		t.Fatalf("formatBook = %q, want %q", got, want)
	}
}

func TestFormatTrade(t *testing.T) {
	rec := models.TradeRecord(`{"stream":"trade.BTC_USDC","data":{"s":"BTC_USDC","p":"100.5","q":"0.1","m":true}}`)
	if got := formatTrade(rec); got != "trade=sell 0.1@100.5" {
		t.Fatalf("formatTrade = %q", got)
	}
	if got := formatTrade("not json"); got != "trade=?" {
		t.Fatalf("formatTrade(bad) = %q", got)
	}
}

func TestPrintLine(t *testing.T) {
	client := stream.New(config.StreamConfig{})
	client.HandleFrame([]byte(`{"stream":"trade.BTC_USDC","data":{"p":"1","q":"2"}}`))

	var buf bytes.Buffer
	printLine(&buf, client)

	line := buf.String()
	for _, part := range []string{"disconnected", "book=-", "trade=buy 2@1"} {
		if !strings.Contains(line, part) {
			t.Fatalf("line %q missing %q", line, part)
		}
	}
}
