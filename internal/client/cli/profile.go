package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/trustkeeper/internal/client/models"
)

func (a *App) Me(ctx context.Context) error {
	acc, err := a.auth.Me(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "ID:     %d\nEmail:  %s\nAvatar: %s\n", acc.ID, acc.Email, orDash(acc.AvatarURL))
	return nil
}

func (a *App) Profile(ctx context.Context) error {
	p, err := a.auth.GetProfile(ctx)
	if err != nil {
		return err
	}
	a.printProfile(p)
	return nil
}

func (a *App) printProfile(p *models.Profile) {
	fmt.Fprintf(a.out, "Email:       %s\n", p.Email)
	fmt.Fprintf(a.out, "First name:  %s\n", orDash(p.FirstName))
	fmt.Fprintf(a.out, "Last name:   %s\n", orDash(p.LastName))
	fmt.Fprintf(a.out, "Birth date:  %s\n", orDash(p.DOB))
	fmt.Fprintf(a.out, "Nationality: %s\n", orDash(p.Nationality))
	fmt.Fprintf(a.out, "Avatar:      %s\n", orDash(p.AvatarURL))
}

// SetProfile prompts for each editable field; empty answers are left out of
// the update.
func (a *App) SetProfile(ctx context.Context) error {
	var upd models.ProfileUpdate
	prompts := []struct {
		label string
		dst   **string
	}{
		{"First name", &upd.FirstName},
		{"Last name", &upd.LastName},
		{"Birth date (YYYY-MM-DD)", &upd.DOB},
		{"Nationality", &upd.Nationality},
	}
	for _, p := range prompts {
		v, err := getOptional(a.reader, p.label, a.out)
		if err != nil {
			return err
		}
		*p.dst = v
	}

	if upd.Empty() {
		fmt.Fprintln(a.out, "Nothing to update.")
		return nil
	}

	p, err := a.auth.UpdateProfile(ctx, upd)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Profile updated.")
	a.printProfile(p)
	return nil
}

// Avatar uploads the image at path.
func (a *App) Avatar(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	acc, err := a.auth.UploadAvatar(ctx, path, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Avatar uploaded: %s\n", acc.AvatarURL)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
