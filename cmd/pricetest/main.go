package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"krw_trader/internal/infra/bithumb"
	"krw_trader/internal/signal"
)

// pricetest probes the public Bithumb endpoints without credentials: top of
// book plus the percentile bands the signal engine would derive. Handy for
// eyeballing thresholds before enabling an asset.
func main() {
	var (
		markets = flag.String("markets", "KRW-XRP,KRW-USDT", "comma-separated market codes")
		unit    = flag.Int("unit", 60, "candle width in minutes")
		count   = flag.Int("count", 24, "candle window length")
		entry   = flag.Float64("entry", 30, "entry percentile")
		exit    = flag.Float64("exit", 5, "exit percentile")
	)
	flag.Parse()

	client := bithumb.NewClient("", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Println("=== KRW Trader Price Probe ===")
	fmt.Println()

	failed := false
	for _, market := range strings.Split(*markets, ",") {
		market = strings.TrimSpace(market)
		if market == "" {
			continue
		}

		book, err := client.GetOrderBook(ctx, market)
		if err != nil {
			fmt.Printf("📊 %s\n   orderbook error: %v\n\n", market, err)
			failed = true
			continue
		}
		fmt.Printf("📊 %s\n", market)
		fmt.Printf("   best bid: %12.4f (size %.4f)\n", book.BestBid, book.BidSize)
		fmt.Printf("   best ask: %12.4f (size %.4f)\n", book.BestAsk, book.AskSize)
		fmt.Printf("   spread:   %12.4f\n", book.BestAsk-book.BestBid)

		candles, err := client.GetCandles(ctx, market, *unit, *count)
		if err != nil {
			fmt.Printf("   candles error: %v\n\n", err)
			failed = true
			continue
		}
		closes := make([]float64, 0, len(candles))
		for _, c := range candles {
			if c.Close > 0 {
				closes = append(closes, c.Close)
			}
		}
		entryBand, err1 := signal.Percentile(closes, *entry)
		exitBand, err2 := signal.Percentile(closes, *exit)
		if err1 != nil || err2 != nil {
			fmt.Printf("   no usable close history (%d candles)\n\n", len(candles))
			failed = true
			continue
		}

		fmt.Printf("   entry band (p%.0f of %d closes): %12.4f", *entry, len(closes), entryBand)
		if book.BestBid <= entryBand {
			fmt.Print("  ← bid inside, would enter")
		}
		fmt.Println()
		fmt.Printf("   exit band  (p%.0f):              %12.4f\n", *exit, exitBand)
		fmt.Println()
	}

	if failed {
		os.Exit(1)
	}
	fmt.Println("✅ All probes succeeded")
}
