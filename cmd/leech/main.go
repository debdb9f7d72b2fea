// Command leech is the CLI front-end of spec.md §1's out-of-scope
// external collaborator: it validates arguments, wires up logging, and
// drives the core coordinator to completion, per SPEC_FULL.md §4.9.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gosuri/uiprogress"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/niyazisuleymanov/leech/clientid"
	"github.com/niyazisuleymanov/leech/coordinator"
	"github.com/niyazisuleymanov/leech/fswriter"
	"github.com/niyazisuleymanov/leech/torrentfile"
)

// Exit codes, per spec.md §6.
const (
	exitSuccess        = 0
	exitInvalidArgs    = 1
	exitParseError     = 2
	exitTrackerUnreach = 3
	exitDownloadAbort  = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("leech", flag.ContinueOnError)
	torrentPath := fs.String("T", "", "path to the .torrent file (required)")
	outputDir := fs.String("o", ".", "output directory")
	port := fs.Int("p", 6881, "listening port advertised to the tracker")
	logPath := fs.String("l", "", "log file path (default: stderr)")
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return exitInvalidArgs
	}
	if *torrentPath == "" {
		fmt.Fprintln(os.Stderr, "leech: -T <torrent_path> is required")
		return exitInvalidArgs
	}

	logger, closeLog, err := newLogger(*logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "leech: setting up logging: %v\n", err)
		return exitInvalidArgs
	}
	defer closeLog()
	zap.ReplaceGlobals(logger)

	tf, err := torrentfile.Open(*torrentPath)
	if err != nil {
		logger.Error("failed to parse torrent file", zap.String("path", *torrentPath), zap.Error(err))
		return exitParseError
	}

	writer, err := fswriter.Open(*outputDir, tf.Name, int64(tf.TotalLength))
	if err != nil {
		logger.Error("failed to open output file", zap.Error(err))
		return exitDownloadAbort
	}

	id := clientid.New(*port, int64(tf.TotalLength))
	coord := coordinator.New(tf, writer, id)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var bar *uiprogress.Bar
	if isatty.IsTerminal(os.Stdout.Fd()) {
		uiprogress.Start()
		defer uiprogress.Stop()
		bar = uiprogress.AddBar(tf.PieceCount())
		bar.AppendCompleted()
		bar.AppendElapsed()
	}
	go consumeEvents(coord, logger, bar)

	if err := coord.Run(ctx); err != nil {
		writer.Close()
		if errors.Is(err, coordinator.ErrTrackerUnreachable) {
			logger.Error("tracker unreachable", zap.Error(err))
			return exitTrackerUnreach
		}
		logger.Error("download aborted", zap.Error(err))
		return exitDownloadAbort
	}

	if err := writer.Close(); err != nil {
		logger.Error("failed to finalize output file", zap.Error(err))
		return exitDownloadAbort
	}

	logger.Info("download complete", zap.String("path", writer.Path()))
	return exitSuccess
}

// consumeEvents drains the coordinator's DownloadEvent stream (spec.md
// §7) for the lifetime of the download, translating it into structured
// log lines and, when attached to a terminal, progress bar updates.
func consumeEvents(coord *coordinator.Coordinator, logger *zap.Logger, bar *uiprogress.Bar) {
	for ev := range coord.Events() {
		switch ev.Kind {
		case coordinator.EventStarted:
			logger.Info("download started")
		case coordinator.EventPeersReceived:
			logger.Debug("tracker returned peers", zap.Int("count", ev.Count))
		case coordinator.EventPeerConnected:
			logger.Debug("peer connected", zap.String("addr", ev.Addr))
		case coordinator.EventPeerFailed:
			logger.Warn("peer failed", zap.String("addr", ev.Addr), zap.String("reason", ev.Kind_))
		case coordinator.EventPieceComplete:
			logger.Debug("piece complete", zap.Int("index", ev.Index))
			if bar != nil {
				bar.Incr()
			}
		case coordinator.EventPieceCorrupt:
			logger.Warn("piece failed verification", zap.Int("index", ev.Index), zap.Int("session", ev.SessionID))
		case coordinator.EventProgress:
			logger.Debug("progress", zap.Int("have", ev.Have), zap.Int("total", ev.Total))
		case coordinator.EventCompleted:
			logger.Info("all pieces verified and written")
		}
	}
}

// newLogger builds the process logger, grounded on the development
// config + colored level encoder convention used elsewhere in the
// corpus, routed to logPath when given and stderr otherwise.
func newLogger(logPath string) (*zap.Logger, func(), error) {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if logPath == "" {
		logger, err := config.Build()
		if err != nil {
			return nil, nil, err
		}
		return logger, func() { logger.Sync() }, nil
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file %s: %w", logPath, err)
	}
	config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewConsoleEncoder(config.EncoderConfig)
	core := zapcore.NewCore(encoder, zapcore.AddSync(f), config.Level)
	logger := zap.New(core)
	return logger, func() { logger.Sync(); f.Close() }, nil
}
