package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"bourse/internal/common"
	"bourse/internal/dispatch"
	"bourse/internal/exchange"
	"bourse/internal/risk"
)

func main() {
	scriptPath := flag.String("script", "", "path to a newline-delimited command script; defaults to stdin")
	logLevel := flag.String("log-level", "info", "zerolog level: debug, info, warn, error")
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", *logLevel).Msg("invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	eng := exchange.New(log.Logger)
	d := dispatch.New(ctx, log.Logger)
	defer d.Stop()

	input := os.Stdin
	if *scriptPath != "" {
		f, err := os.Open(*scriptPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *scriptPath).Msg("unable to open script")
		}
		defer f.Close()
		input = f
	}

	runScript(ctx, d, eng, input)
}

func runScript(ctx context.Context, d *dispatch.Dispatcher, eng *exchange.Engine, input *os.File) {
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if err := d.Submit(func() { execute(eng, line) }); err != nil {
			log.Error().Err(err).Msg("dispatcher stopped")
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Error().Err(err).Msg("error reading command script")
	}
}

// execute parses and runs one command line. It runs on the dispatcher's
// consumer goroutine, so it never races with another command.
func execute(eng *exchange.Engine, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	cmd, args := strings.ToUpper(fields[0]), fields[1:]

	switch cmd {
	case "ADD_INSTRUMENT":
		addInstrument(eng, args)
	case "HALT":
		halt(eng, args)
	case "ORDER":
		order(eng, args)
	case "CANCEL":
		cancel(eng, args)
	case "CANCEL_ALL":
		cancelAll(eng, args)
	case "REPLACE":
		replace(eng, args)
	case "SETTLE":
		settle(eng, args)
	case "SNAPSHOT":
		snapshot(eng, args)
	case "POSITIONS":
		positions(eng, args)
	case "PNL":
		pnl(eng, args)
	case "STATS":
		stats(eng)
	case "SET_RISK_LIMITS":
		setRiskLimits(eng, args)
	default:
		log.Warn().Str("command", cmd).Msg("unrecognized command")
	}
}

func addInstrument(eng *exchange.Engine, args []string) {
	if len(args) != 8 {
		log.Error().Msg("ADD_INSTRUMENT id symbol kind ref_id strike tick_size lot_size tick_value")
		return
	}
	spec := exchange.InstrumentSpec{
		ID:          common.InstrumentID(mustUint(args[0])),
		Symbol:      args[1],
		Kind:        parseKind(args[2]),
		ReferenceID: common.InstrumentID(mustUint(args[3])),
		Strike:      common.Price(mustInt(args[4])),
		TickSize:    common.Price(mustInt(args[5])),
		LotSize:     common.Qty(mustInt(args[6])),
		TickValue:   mustFloat(args[7]),
	}
	if !eng.AddInstrument(spec) {
		log.Error().Uint64("id", uint64(spec.ID)).Msg("instrument already exists")
		return
	}
	log.Info().Uint64("id", uint64(spec.ID)).Str("symbol", spec.Symbol).Msg("instrument added")
}

func halt(eng *exchange.Engine, args []string) {
	if len(args) != 2 {
		log.Error().Msg("HALT inst_id on|off")
		return
	}
	on := strings.EqualFold(args[1], "on")
	if !eng.HaltInstrument(common.InstrumentID(mustUint(args[0])), on) {
		log.Error().Str("inst_id", args[0]).Msg("unknown instrument")
		return
	}
	log.Info().Str("inst_id", args[0]).Bool("halted", on).Msg("halt toggled")
}

func order(eng *exchange.Engine, args []string) {
	if len(args) < 5 {
		log.Error().Msg("ORDER user inst side price qty [tif] [post_only]")
		return
	}
	req := exchange.OrderRequest{
		UserID:       common.UserID(mustUint(args[0])),
		InstrumentID: common.InstrumentID(mustUint(args[1])),
		Side:         parseSide(args[2]),
		Price:        common.Price(mustInt(args[3])),
		Quantity:     common.Qty(mustInt(args[4])),
		TIF:          common.GFD,
	}
	if len(args) > 5 && strings.EqualFold(args[5], "ioc") {
		req.TIF = common.IOC
	}
	if len(args) > 6 && strings.EqualFold(args[6], "post_only") {
		req.PostOnly = true
	}

	result := eng.SubmitOrder(req)
	ev := log.Info()
	if !result.Success {
		ev = log.Warn()
	}
	ev.Uint64("order_id", uint64(result.OrderID)).
		Bool("success", result.Success).
		Str("error", result.ErrorMessage).
		Int("fills", len(result.Fills)).
		Msg("order result")
}

func cancel(eng *exchange.Engine, args []string) {
	if len(args) != 2 {
		log.Error().Msg("CANCEL order_id user_id")
		return
	}
	ok := eng.CancelOrder(common.OrderID(mustUint(args[0])), common.UserID(mustUint(args[1])))
	log.Info().Bool("success", ok).Msg("cancel result")
}

func cancelAll(eng *exchange.Engine, args []string) {
	if len(args) != 1 {
		log.Error().Msg("CANCEL_ALL user_id")
		return
	}
	n := eng.CancelAll(common.UserID(mustUint(args[0])))
	log.Info().Int("cancelled", n).Msg("cancel_all result")
}

func replace(eng *exchange.Engine, args []string) {
	if len(args) != 4 {
		log.Error().Msg("REPLACE order_id user_id new_price new_qty")
		return
	}
	price := common.Price(mustInt(args[2]))
	qty := common.Qty(mustInt(args[3]))
	result := eng.Replace(common.OrderID(mustUint(args[0])), common.UserID(mustUint(args[1])), &price, &qty)
	log.Info().Uint64("new_order_id", uint64(result.OrderID)).Bool("success", result.Success).Msg("replace result")
}

func settle(eng *exchange.Engine, args []string) {
	if len(args) != 2 {
		log.Error().Msg("SETTLE inst_id settlement_value")
		return
	}
	ok := eng.SettleInstrument(common.InstrumentID(mustUint(args[0])), common.Price(mustInt(args[1])))
	log.Info().Bool("success", ok).Msg("settlement result")
}

func snapshot(eng *exchange.Engine, args []string) {
	if len(args) != 1 {
		log.Error().Msg("SNAPSHOT inst_id")
		return
	}
	snap, ok := eng.GetSnapshot(common.InstrumentID(mustUint(args[0])), 10)
	if !ok {
		log.Error().Msg("unknown instrument")
		return
	}
	fmt.Printf("snapshot inst=%d last=%d bids=%v asks=%v\n", snap.InstrumentID, snap.LastPrice, snap.Bids, snap.Asks)
}

func positions(eng *exchange.Engine, args []string) {
	if len(args) != 1 {
		log.Error().Msg("POSITIONS user_id")
		return
	}
	for inst, p := range eng.GetPositions(common.UserID(mustUint(args[0]))) {
		fmt.Printf("inst=%d net=%d vwap=%d realized=%.2f unrealized=%.2f\n", inst, p.NetQty, p.VWAP, p.RealizedPnL, p.UnrealizedPnL)
	}
}

func pnl(eng *exchange.Engine, args []string) {
	if len(args) != 1 {
		log.Error().Msg("PNL user_id")
		return
	}
	total := eng.GetTotalPnL(common.UserID(mustUint(args[0])))
	fmt.Printf("total_pnl=%.2f\n", total)
}

func stats(eng *exchange.Engine) {
	s := eng.GetStats()
	fmt.Printf("accepted=%d fills=%d cancels=%d rejects=%d\n", s.TotalOrdersAccepted, s.TotalFillsEmitted, s.TotalCancels, s.TotalRejects)
}

func setRiskLimits(eng *exchange.Engine, args []string) {
	if len(args) != 4 {
		log.Error().Msg("SET_RISK_LIMITS user_id max_position max_notional max_orders_per_sec")
		return
	}
	eng.SetRiskLimits(common.UserID(mustUint(args[0])), risk.Limits{
		MaxPosition:     common.Qty(mustInt(args[1])),
		MaxNotional:     mustFloat(args[2]),
		MaxOrdersPerSec: int(mustInt(args[3])),
	})
	log.Info().Str("user_id", args[0]).Msg("risk limits set")
}

func parseSide(s string) common.Side {
	if strings.EqualFold(s, "sell") {
		return common.Sell
	}
	return common.Buy
}

func parseKind(s string) common.InstrumentKind {
	switch strings.ToUpper(s) {
	case "CALL":
		return common.Call
	case "PUT":
		return common.Put
	default:
		return common.Scalar
	}
}

func mustInt(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		log.Fatal().Err(err).Str("value", s).Msg("expected integer")
	}
	return v
}

func mustUint(s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		log.Fatal().Err(err).Str("value", s).Msg("expected unsigned integer")
	}
	return v
}

func mustFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		log.Fatal().Err(err).Str("value", s).Msg("expected float")
	}
	return v
}
