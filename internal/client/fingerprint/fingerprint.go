// Package fingerprint computes the DeviceFingerprint sent with every login
// attempt. Only the installation id is persisted; the fingerprint itself is
// rebuilt each time.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/trustkeeper/internal/client/models"
	"github.com/dmitrijs2005/trustkeeper/internal/client/repositories/metadata"
	"github.com/google/uuid"
)

// Host reports facts about the machine. The default reads the OS.
type Host interface {
	Hostname() (string, error)
	Getenv(key string) string
	Location() *time.Location
}

type osHost struct{}

func (osHost) Hostname() (string, error) { return os.Hostname() }
func (osHost) Getenv(key string) string  { return os.Getenv(key) }
func (osHost) Location() *time.Location  { return time.Local }

type Provider struct {
	mu         sync.Mutex
	repo       metadata.Repository
	appVersion string
	host       Host
}

func NewProvider(repo metadata.Repository, appVersion string) *Provider {
	return &Provider{repo: repo, appVersion: appVersion, host: osHost{}}
}

// WithHost replaces the host facts source.
func (p *Provider) WithHost(h Host) *Provider {
	p.host = h
	return p
}

// InstallationID returns the random per-installation UUID, creating and
// storing it on first use.
func (p *Provider) InstallationID(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	v, err := p.repo.Get(ctx, metadata.KeyInstallationID)
	if err != nil {
		return "", fmt.Errorf("read installation id: %w", err)
	}
	if len(v) > 0 {
		return string(v), nil
	}

	id := uuid.NewString()
	if err := p.repo.Set(ctx, metadata.KeyInstallationID, []byte(id)); err != nil {
		return "", fmt.Errorf("store installation id: %w", err)
	}
	return id, nil
}

func (p *Provider) Fingerprint(ctx context.Context) (models.DeviceFingerprint, error) {
	installationID, err := p.InstallationID(ctx)
	if err != nil {
		return models.DeviceFingerprint{}, err
	}

	hostname, _ := p.host.Hostname()

	return models.DeviceFingerprint{
		Model:      "cli-" + runtime.GOARCH,
		OS:         runtime.GOOS,
		AppVersion: p.appVersion,
		Timezone:   p.host.Location().String(),
		Locale:     Locale(p.host.Getenv),
		DeviceID:   DeviceID(installationID, runtime.GOOS, runtime.GOARCH, hostname),
	}, nil
}

// DeviceID hashes the installation id together with host facts.
func DeviceID(installationID string, facts ...string) string {
	h := sha256.New()
	h.Write([]byte(installationID))
	for _, f := range facts {
		h.Write([]byte{0})
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Locale derives a BCP 47 style tag from LC_ALL, LC_MESSAGES or LANG.
func Locale(getenv func(string) string) string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		v := getenv(key)
		if v == "" || v == "C" || v == "POSIX" {
			continue
		}
		if i := strings.IndexAny(v, ".@"); i >= 0 {
			v = v[:i]
		}
		return strings.ReplaceAll(v, "_", "-")
	}
	return "en-US"
}
