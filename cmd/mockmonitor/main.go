package main

import (
	"flag"
	"log"

	"nodewatch/internal/constants"
	"nodewatch/internal/mockserver"
	"nodewatch/internal/session"
	"nodewatch/internal/utils"
)

func main() {
	port := flag.String("port", utils.GetEnv("PORT", constants.DefaultMockPort), "listen port")
	interval := flag.Duration("interval", utils.GetEnvDuration("MOCK_STATUS_INTERVAL", constants.MockStatusInterval), "status_update interval")
	sessionTTL := flag.Duration("session-ttl", utils.GetEnvDuration("MOCK_SESSION_TTL", constants.MockSessionTTL), "issued session lifetime")
	walletSockets := flag.Int("wallet-sockets", 4, "authenticated sockets allowed per wallet")
	dropPong := flag.Bool("drop-pong", false, "never answer ping")
	omitToken := flag.Bool("omit-token", false, "send auth_success without a session token")
	flag.Parse()

	s := mockserver.NewServer(mockserver.Options{
		StatusInterval:      *interval,
		SessionTTL:          *sessionTTL,
		MaxSocketsPerWallet: *walletSockets,
		Store:               session.NewStore(),
	})
	s.Faults.DropPong.Store(*dropPong)
	s.Faults.OmitToken.Store(*omitToken)

	if err := s.Run(*port); err != nil {
		log.Fatalf("Failed to run mock monitor: %v", err)
	}
}
