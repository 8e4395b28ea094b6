// Command feedtail connects to the market stream and prints the connection
// state, the top of book and the latest trade once per second.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cfdfeed/config"
	"cfdfeed/internal/stream"
	"cfdfeed/logger"
	"cfdfeed/models"
)

func main() {
	log := logger.GetLogger()

	url := flag.String("url", config.DefaultStreamURL, "websocket endpoint")
	symbol := flag.String("symbol", config.DefaultSymbol, "market symbol")
	interval := flag.Duration("interval", time.Second, "print interval")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	if err := log.Configure(*logLevel, "text", "stderr", 0); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := stream.New(config.StreamConfig{URL: *url, Symbol: *symbol})
	if err := client.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start stream client")
		os.Exit(1)
	}
	defer client.Stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			printLine(os.Stdout, client)
		}
	}
}

func printLine(w io.Writer, client *stream.Client) {
	line := fmt.Sprintf("%s %-12s", time.Now().Format("15:04:05"), client.State())
	line += " " + formatBook(client.LatestOrderBook())

	if rec, ok := client.LatestTrade(); ok {
		line += " " + formatTrade(rec)
	} else {
		line += " trade=-"
	}
	fmt.Fprintln(w, line)
}

func formatBook(book *models.OrderBookSnapshot) string {
	if book == nil {
		return "book=-"
	}
	bid, _ := book.BestBid()
	ask, _ := book.BestAsk()
	out := fmt.Sprintf("%s bid=%s@%s ask=%s@%s", book.Symbol, bid.Size, bid.Price, ask.Size, ask.Price)
	if spread, ok := book.Spread(); ok {
		out += " spread=" + spread.String()
	}
	return out
}

func formatTrade(rec models.TradeRecord) string {
	ev, err := rec.Decode()
	if err != nil {
		return "trade=?"
	}
	side := "buy"
	if ev.BuyerMaker {
		side = "sell"
	}
	return fmt.Sprintf("trade=%s %s@%s", side, ev.Quantity, ev.Price)
}
