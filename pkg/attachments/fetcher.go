package attachments

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/illmade-knight/go-agentflow/pkg/agentmessage"
	"github.com/rs/zerolog"
)

// FetcherConfig bounds what the fetcher will download.
type FetcherConfig struct {
	// MaxBytes is the hard size ceiling for a single attachment.
	MaxBytes int64
	// AllowedTypes lists acceptable MIME types. An entry may be exact
	// ("image/png") or a category wildcard ("image/*"). Empty means all
	// types are accepted.
	AllowedTypes []string
	// FetchTimeout bounds one download.
	FetchTimeout time.Duration
}

const (
	defaultMaxBytes     = 10 << 20
	defaultFetchTimeout = 15 * time.Second
)

// Fetcher downloads attachment bodies referenced by message file URLs,
// enforcing the configured size ceiling and MIME allow-list.
type Fetcher struct {
	cfg        FetcherConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewFetcher creates a bounded attachment Fetcher.
func NewFetcher(cfg FetcherConfig, logger zerolog.Logger) *Fetcher {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	return &Fetcher{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.FetchTimeout},
		logger:     logger.With().Str("component", "AttachmentFetcher").Logger(),
	}
}

// Fetch downloads the attachment referenced by the message's file URL.
func (f *Fetcher) Fetch(ctx context.Context, msg *agentmessage.CanonicalMessage) (*agentmessage.Attachment, error) {
	if msg.FileURL == "" {
		return nil, fmt.Errorf("message %s has no file URL", msg.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, msg.FileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build attachment request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("attachment fetch: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("attachment fetch: unexpected status %d", resp.StatusCode)
	}

	mimeType := msg.FileType
	if mimeType == "" {
		mimeType = contentTypeOf(resp)
	}
	if !f.typeAllowed(mimeType) {
		return nil, fmt.Errorf("attachment type %q is not allowed", mimeType)
	}

	// Content-Length catches oversized bodies before reading; the limited
	// reader catches servers that lie about it.
	if resp.ContentLength > f.cfg.MaxBytes {
		return nil, fmt.Errorf("attachment of %d bytes exceeds limit of %d", resp.ContentLength, f.cfg.MaxBytes)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment body: %w", err)
	}
	if int64(len(data)) > f.cfg.MaxBytes {
		return nil, fmt.Errorf("attachment exceeds limit of %d bytes", f.cfg.MaxBytes)
	}

	f.logger.Debug().Str("msg_id", msg.ID).Int("bytes", len(data)).Msg("Attachment fetched.")
	return &agentmessage.Attachment{
		Data:     data,
		Name:     msg.FileName,
		MIMEType: mimeType,
	}, nil
}

func (f *Fetcher) typeAllowed(mimeType string) bool {
	if len(f.cfg.AllowedTypes) == 0 {
		return true
	}
	for _, allowed := range f.cfg.AllowedTypes {
		if category, ok := strings.CutSuffix(allowed, "/*"); ok {
			if strings.HasPrefix(mimeType, category+"/") {
				return true
			}
			continue
		}
		if mimeType == allowed {
			return true
		}
	}
	return false
}

func contentTypeOf(resp *http.Response) string {
	ct := resp.Header.Get("Content-Type")
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = ct[:idx]
	}
	return strings.TrimSpace(ct)
}
