// Command promote-admin grants the admin role to an existing account.
//
// There is no HTTP route for role escalation; an operator runs this against
// the same store the server uses:
//
//	STORE_DRIVER=sqlite promote-admin -email ops@city.gov
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sakif/civic-reports/internal/config"
	"github.com/sakif/civic-reports/internal/server"
	"github.com/sakif/civic-reports/internal/service"
)

func main() {
	email := flag.String("email", "", "email of the user to promote")
	flag.Parse()

	if *email == "" {
		fmt.Fprintln(os.Stderr, "usage: promote-admin -email <address>")
		os.Exit(2)
	}

	if err := run(*email); err != nil {
		fmt.Fprintln(os.Stderr, "promote-admin:", err)
		os.Exit(1)
	}
}

func run(email string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.StoreDriver == config.DriverMemory {
		return errors.New("STORE_DRIVER=memory has no persistent users to promote")
	}
	logger := cfg.NewLogger()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deps, err := server.OpenDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Store.Close()

	svc := service.NewAuthService(deps.Users, nil, deps.Passwords, deps.Assets, service.NewValidator(), logger)
	return svc.PromoteToAdmin(ctx, email)
}
