package contentstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmehra2102/prod-golang-projects/securehealth/config"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
	shell "github.com/ipfs/go-ipfs-api"
)

const defaultIPFSTimeout = 60 * time.Second

// IPFSBackend talks to the Kubo RPC API (/api/v0) through go-ipfs-api.
type IPFSBackend struct {
	sh  *shell.Shell
	pin bool
}

func NewIPFSBackend(cfg config.IPFSConfig, httpClient *http.Client) *IPFSBackend {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultIPFSTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	client := *httpClient
	if cfg.ProjectID != "" {
		base := client.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		client.Transport = &basicAuthTransport{user: cfg.ProjectID, pass: cfg.ProjectSecret, base: base}
	}
	return &IPFSBackend{
		sh:  shell.NewShellWithClient(strings.TrimRight(cfg.APIURL, "/"), &client),
		pin: cfg.Pin,
	}
}

func (b *IPFSBackend) Name() string { return "ipfs" }

// Add uploads r as one file. Shell.Add takes no context, so a cancelled ctx returns early
// and leaves the request to finish under the client timeout.
func (b *IPFSBackend) Add(ctx context.Context, r io.Reader) (string, error) {
	type result struct {
		cid string
		err error
	}
	done := make(chan result, 1)
	go func() {
		cid, err := b.sh.Add(r, shell.Pin(b.pin), shell.CidVersion(1))
		done <- result{cid, err}
	}()

	select {
	case <-ctx.Done():
		return "", ipfsError("add", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return "", ipfsError("add", res.err)
		}
		if res.cid == "" {
			return "", fmt.Errorf("%w: add response carried no hash", domain.ErrStoreUnavailable)
		}
		return res.cid, nil
	}
}

func (b *IPFSBackend) Cat(ctx context.Context, id string) (io.ReadCloser, error) {
	resp, err := b.sh.Request("cat", id).Send(ctx)
	if err != nil {
		return nil, ipfsError("cat "+id, err)
	}
	if resp.Error != nil {
		_ = resp.Close()
		return nil, ipfsError("cat "+id, resp.Error)
	}
	return resp.Output, nil
}

// ipfsError maps Kubo failures. Kubo answers unknown CIDs and paths with a 500 whose
// message names the miss.
func ipfsError(op string, err error) error {
	var se *shell.Error
	if errors.As(err, &se) {
		if se.Message != "command not found" && isIPFSMissing(se.Message) {
			return fmt.Errorf("ipfs %s: %s: %w", op, se.Message, domain.ErrNotFound)
		}
		return fmt.Errorf("%w: ipfs %s: %s", domain.ErrStoreUnavailable, op, se.Message)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: ipfs %s: %v", domain.ErrStoreUnavailable, op, domain.ErrTimeout)
	}
	return fmt.Errorf("%w: ipfs %s: %v", domain.ErrStoreUnavailable, op, err)
}

func isIPFSMissing(msg string) bool {
	m := strings.ToLower(msg)
	for _, s := range []string{"not found", "no link named", "invalid path", "invalid cid", "failed to resolve"} {
		if strings.Contains(m, s) {
			return true
		}
	}
	return false
}

// basicAuthTransport adds the project credentials hosted IPFS APIs require.
type basicAuthTransport struct {
	user, pass string
	base       http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.SetBasicAuth(t.user, t.pass)
	return t.base.RoundTrip(r)
}
