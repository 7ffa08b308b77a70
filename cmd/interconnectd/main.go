// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vocnet/interconnect"
	"github.com/vocnet/interconnect/media"
)

func main() {
	configPath := flag.String("config", "interconnect.json", "path to the interconnect configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	lev, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || lev == zerolog.NoLevel {
		lev = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.StampMicro,
	}).With().Timestamp().Logger().Level(lev)

	media.RTPDebug = os.Getenv("RTP_DEBUG") == "true"
	media.DTLSDebug = os.Getenv("DTLS_DEBUG") == "true"

	conf, err := interconnect.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Loading configuration failed")
	}

	node, err := interconnect.New(conf)
	if err != nil {
		log.Fatal().Err(err).Msg("Starting interconnect failed")
	}
	defer node.Close()

	log.Info().Str("name", conf.Name).Bool("client", conf.Socket.Client).Msg("Interconnect running")
	<-ctx.Done()
	log.Info().Msg("Shutting down")
}
