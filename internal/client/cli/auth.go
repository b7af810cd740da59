package cli

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/trustkeeper/internal/client/models"
	"github.com/dmitrijs2005/trustkeeper/internal/common"
)

// Indirections used to facilitate testing.
var (
	getSimpleText = GetSimpleText
	getPassword   = GetPassword
	getOptional   = GetOptional
)

// Register prompts for an email and password and creates the account. The
// user still has to log in afterwards.
func (a *App) Register(ctx context.Context) error {
	identity, err := getSimpleText(a.reader, "Enter email", a.out)
	if err != nil {
		return err
	}

	password, err := getPassword(a.reader, a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	if err := a.auth.Register(ctx, identity, password); err != nil {
		return err
	}

	fmt.Fprintln(a.out, "Account created. Run 'login' to sign in.")
	return nil
}

// Login prompts for credentials and authenticates. When the backend asks for
// step-up the challenge is started right away and the user finishes with
// 'verify <code>'.
func (a *App) Login(ctx context.Context) error {
	identity, err := getSimpleText(a.reader, "Enter email", a.out)
	if err != nil {
		return err
	}

	password, err := getPassword(a.reader, a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	res, err := a.auth.Login(ctx, identity, password)
	if err != nil {
		return err
	}

	if res.Provisional() {
		fmt.Fprintf(a.out, "Additional verification required (risk score %d).\n", res.RiskScore)
		if res.Message != "" {
			fmt.Fprintln(a.out, res.Message)
		}
		ch, err := a.stepup.Start(ctx, res)
		if err != nil {
			return err
		}
		a.printChallenge(ch)
		return nil
	}

	fmt.Fprintf(a.out, "Logged in as %s (risk score %d)\n", res.Identity, res.RiskScore)
	return nil
}

func (a *App) printChallenge(ch *models.StepUpChallenge) {
	fmt.Fprintln(a.out, "A verification code was sent. Enter it with: verify <code>")
	if a.devMode && ch.Hint != "" {
		fmt.Fprintf(a.out, "[dev] test code: %s\n", ch.Hint)
	}
}

// Verify submits a step-up code.
func (a *App) Verify(ctx context.Context, code string) error {
	if err := a.stepup.Verify(ctx, code); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Verified. Logged in as %s\n", a.state.Identity())
	return nil
}

// StepUp starts a standalone challenge for the current session.
func (a *App) StepUp(ctx context.Context) error {
	ch, err := a.stepup.Start(ctx, nil)
	if err != nil {
		return err
	}
	a.printChallenge(ch)
	return nil
}

// Cancel abandons any step-up challenge.
func (a *App) Cancel(context.Context) error {
	a.stepup.Abandon()
	fmt.Fprintln(a.out, "Step-up cancelled.")
	return nil
}

// ForgetBinding removes the local device binding so the next login runs as a
// fresh device. It is the way out when the stored binding can no longer be
// unsealed, e.g. after the key file was lost.
func (a *App) ForgetBinding(ctx context.Context) error {
	if err := a.store.Clear(ctx); err != nil {
		return err
	}
	a.logger.Info(ctx, "device binding removed")
	fmt.Fprintln(a.out, "Device binding forgotten. The next login will be treated as a new device.")
	return nil
}

// Logout drops any pending challenge and clears the local session.
func (a *App) Logout(ctx context.Context) error {
	a.stepup.Abandon()
	if err := a.auth.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Logged out.")
	return nil
}

// DeleteAccount asks for confirmation, deletes the account and logs out.
func (a *App) DeleteAccount(ctx context.Context) error {
	answer, err := getSimpleText(a.reader, "Type DELETE to permanently delete your account", a.out)
	if err != nil {
		return err
	}
	if answer != "DELETE" {
		fmt.Fprintln(a.out, "Cancelled.")
		return nil
	}

	if err := a.auth.DeleteAccount(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Account deleted.")
	return a.Logout(ctx)
}
