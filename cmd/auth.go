package main

import (
	"context"
	"time"

	"github.com/desertthunder/cuedeck/internal/services"
	"github.com/urfave/cli/v3"
)

func (r *Runner) auth() (*services.AuthService, error) {
	gw, store, err := r.session()
	if err != nil {
		return nil, err
	}
	return services.NewAuthService(gw, store, r.jar, r.logger), nil
}

// AuthLogin signs in and stores the session.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	svc, err := r.auth()
	if err != nil {
		return err
	}

	user, err := svc.Login(ctx, cmd.String("email"), cmd.String("password"))
	if err != nil {
		return err
	}

	name := cmd.String("email")
	if user != nil && user.Name != "" {
		name = user.Name
	}
	return r.writePlain("✓ Signed in as %s\n", name)
}

// AuthLogout revokes the session.
func (r *Runner) AuthLogout(ctx context.Context, cmd *cli.Command) error {
	svc, err := r.auth()
	if err != nil {
		return err
	}
	if err := svc.Logout(ctx); err != nil {
		return err
	}
	return r.writePlain("✓ Signed out\n")
}

// AuthStatus prints the stored session and, with --remote, checks it against the backend.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	_, store, err := r.session()
	if err != nil {
		return err
	}

	session := store.Current()
	if !session.Authenticated() {
		return r.writePlain("✗ Not signed in\n")
	}

	r.writePlainHeader("Session")
	if session.User != nil {
		r.writePlain("User:    %s <%s>\n", session.User.Name, session.User.Email)
		if session.User.RoleName != "" {
			r.writePlain("Role:    %s\n", session.User.RoleName)
		}
	}

	switch {
	case session.Token.Expiry.IsZero():
		r.writePlain("Token:   no expiry reported\n")
	case session.Token.Valid():
		r.writePlain("Token:   valid for %s\n", time.Until(session.Token.Expiry).Round(time.Second))
	default:
		r.writePlain("Token:   expired, refreshed on next request\n")
	}

	if !cmd.Bool("remote") {
		return nil
	}

	svc, err := r.auth()
	if err != nil {
		return err
	}
	user, err := svc.Me(ctx)
	if err != nil {
		return err
	}
	return r.writePlain("Backend: ✓ authenticated as %s\n", user.ID)
}
