package main

import (
	"flag"

	"github.com/danmuck/framerelay/internal/config"
	"github.com/danmuck/framerelay/internal/observability"
	"github.com/rs/zerolog/log"
)

func defaultPath(kind string) string {
	switch kind {
	case "relayctl":
		return "cmd/relayctl/config.toml"
	case "relayd":
		return "cmd/relayd/config.toml"
	default:
		log.Fatal().Str("kind", kind).Msg("unknown kind")
		return ""
	}
}

func main() {
	kind := flag.String("kind", "relayd", "config kind: relayctl|relayd")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	observability.InitLogger("configgen")

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}

		var err error
		switch *kind {
		case "relayctl":
			_, err = config.LoadHarnessConfig(path)
		case "relayd":
			_, err = config.LoadPeerConfig(path)
		default:
			log.Fatal().Str("kind", *kind).Msg("unknown kind")
		}
		if err != nil {
			log.Fatal().Err(err).Msg("validation failed")
		}
		log.Info().Str("kind", *kind).Str("path", path).Msg("validated config")
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal().Err(err).Msg("write template failed")
	}
	log.Info().Str("kind", *kind).Str("path", target).Msg("wrote config template")
}
