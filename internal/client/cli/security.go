package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dmitrijs2005/trustkeeper/internal/client/models"
)

const timeLayout = "2006-01-02 15:04"

func fmtTime(t models.Timestamp) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func (a *App) table() *tabwriter.Writer {
	return tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
}

func (a *App) Devices(ctx context.Context) error {
	devices, err := a.trust.ListDevices(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Fprintln(a.out, "No devices.")
		return nil
	}

	w := a.table()
	fmt.Fprintln(w, "DEVICE\tLABEL\tTRUSTED\tLAST SEEN\tLAST IP")
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.DeviceHash, orDash(d.Label), yesNo(d.Trusted), fmtTime(d.LastSeen), orDash(d.LastIP))
	}
	return w.Flush()
}

// Trust marks a device trusted and shows the refreshed device list.
func (a *App) Trust(ctx context.Context, hash string) error {
	if err := a.trust.TrustDevice(ctx, hash); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Device %s trusted.\n", hash)
	return a.Devices(ctx)
}

func (a *App) Bind(ctx context.Context, hash string) error {
	bound, err := a.trust.BindDevice(ctx, hash)
	if err != nil {
		return err
	}
	if bound {
		fmt.Fprintf(a.out, "Device %s bound to this installation.\n", hash)
	} else {
		fmt.Fprintf(a.out, "Device %s bound, but the server issued no binding token.\n", hash)
	}
	return a.Devices(ctx)
}

func (a *App) Unbind(ctx context.Context, hash string) error {
	if err := a.trust.UnbindDevice(ctx, hash); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Device %s unbound.\n", hash)
	return a.Devices(ctx)
}

func (a *App) Logins(ctx context.Context) error {
	logins, err := a.trust.ListLogins(ctx)
	if err != nil {
		return err
	}
	if len(logins) == 0 {
		fmt.Fprintln(a.out, "No logins recorded.")
		return nil
	}

	w := a.table()
	fmt.Fprintln(w, "TIME\tIP\tDEVICE\tOK\tRISK\tREASON")
	for _, l := range logins {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", fmtTime(l.Timestamp), orDash(l.IP), orDash(l.DeviceHash), yesNo(l.Success), l.RiskScore, orDash(l.RiskReason))
	}
	return w.Flush()
}

func (a *App) Sessions(ctx context.Context) error {
	sessions, err := a.trust.ListSessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(a.out, "No sessions.")
		return nil
	}

	w := a.table()
	fmt.Fprintln(w, "SESSION\tCREATED\tLAST SEEN\tIP\tREVOKED")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.SessionID, fmtTime(s.CreatedAt), fmtTime(s.LastSeen), orDash(s.IP), yesNo(s.Revoked))
	}
	return w.Flush()
}

// Security refreshes the telemetry snapshot and prints a summary. method
// selects the anomaly detector; empty keeps the previous choice.
func (a *App) Security(ctx context.Context, method string) error {
	if method != "" {
		if err := a.telemetry.SetAnomalyMethod(method); err != nil {
			return err
		}
	}
	snap, err := a.telemetry.Refresh(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Security overview for %s (as of %s)\n", snap.Identity, snap.FetchedAt.Local().Format(timeLayout))
	fmt.Fprintf(a.out, "Devices:   %d total, %d trusted\n", len(snap.Devices), snap.TrustedDeviceCount())
	fmt.Fprintf(a.out, "Sessions:  %d\n", len(snap.Sessions))
	t := snap.Metrics.Totals
	fmt.Fprintf(a.out, "Logins:    %d success, %d failed, %d risky\n", t.Success, t.Fail, t.Risky)
	if len(snap.Logins) > 0 {
		last := snap.Logins[0]
		fmt.Fprintf(a.out, "Last login: %s from %s (risk %d)\n", fmtTime(last.Timestamp), orDash(last.IP), last.RiskScore)
	}

	it := snap.ImpossibleTravel
	switch {
	case !it.EnoughData:
		fmt.Fprintln(a.out, "Travel:    not enough data")
	case it.Flagged && it.From != nil && it.To != nil:
		fmt.Fprintf(a.out, "Travel:    FLAGGED %s -> %s, %.0f km in %.1f h\n", it.From.City, it.To.City, it.DistanceKm, it.HoursBetween)
	default:
		fmt.Fprintln(a.out, "Travel:    ok")
	}

	an := snap.Anomaly
	if an.EnoughData {
		fmt.Fprintf(a.out, "Anomaly:   %d/100 (%s)\n", an.Score, an.Method)
	} else {
		fmt.Fprintf(a.out, "Anomaly:   not enough data (%s)\n", orDash(an.Reason))
	}

	if len(snap.Inconsistencies) > 0 {
		fmt.Fprintln(a.out, "Warnings:")
		for _, issue := range snap.Inconsistencies {
			fmt.Fprintf(a.out, "  - %s\n", issue)
		}
	}
	return nil
}

// ScoreTx scores a prospective transaction: amount currency category [merchant].
func (a *App) ScoreTx(ctx context.Context, args []string) error {
	if len(args) < 3 {
		fmt.Fprintln(a.out, "Usage: scoretx <amount> <currency> <category> [merchant]")
		return nil
	}
	amount, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("amount %q is not a number", args[0])
	}

	tx := models.TransactionScoreRequest{
		Amount:   amount,
		Currency: strings.ToUpper(args[1]),
		Category: args[2],
	}
	if len(args) > 3 {
		tx.Merchant = strings.Join(args[3:], " ")
	}

	out, err := a.trust.ScoreTransaction(ctx, tx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Risk score: %d/100\n", out.Total)
	for _, p := range out.Parts {
		fmt.Fprintf(a.out, "  - %s\n", p)
	}
	return nil
}

// ScoreLogin asks the backend how risky a login from ip (and optionally a
// known device) would be.
func (a *App) ScoreLogin(ctx context.Context, args []string) error {
	var in models.LoginScoreRequest
	if len(args) > 0 {
		in.IP = args[0]
	}
	if len(args) > 1 {
		in.DeviceHash = args[1]
	}

	out, err := a.trust.ScoreLogin(ctx, in)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Login risk: %d/100\n", out.Total)
	for _, p := range out.Parts {
		fmt.Fprintf(a.out, "  - %s\n", p)
	}
	return nil
}

// Export downloads the audit log and archives it when an archive is
// configured.
func (a *App) Export(ctx context.Context) error {
	export, raw, err := a.trust.ExportAudit(ctx)
	if err != nil {
		return err
	}

	var logins, txs int
	for _, r := range export.Records {
		switch r.Type {
		case models.AuditLogin:
			logins++
		case models.AuditTransaction:
			txs++
		}
	}
	fmt.Fprintf(a.out, "Audit export: %d login and %d transaction records", logins, txs)
	if export.Skipped > 0 {
		fmt.Fprintf(a.out, " (%d unreadable lines skipped)", export.Skipped)
	}
	fmt.Fprintln(a.out)

	if a.archiver == nil {
		return nil
	}
	key, err := a.archiver.Upload(ctx, a.state.Identity(), raw)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Archived as %s\n", key)

	url, err := a.archiver.DownloadURL(ctx, key)
	if err != nil {
		a.logger.Warn(ctx, "presign failed", "key", key, "error", err)
		return nil
	}
	fmt.Fprintf(a.out, "Download link: %s\n", url)
	return nil
}
