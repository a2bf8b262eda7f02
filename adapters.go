package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tonimelisma/drivedrop/internal/graph"
	"github.com/tonimelisma/drivedrop/internal/line"
	"github.com/tonimelisma/drivedrop/internal/relay"
	"github.com/tonimelisma/drivedrop/internal/store"
)

// graphUploader saves files into each user's OneDrive app folder.
type graphUploader struct {
	baseURL    string
	folder     string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
}

// Upload writes f with cred's access token. Authorization failures are
// reported as relay.ErrGrantRejected so the relay can drop the credential.
func (u *graphUploader) Upload(ctx context.Context, cred *store.Credential, f relay.File) (*relay.StoredFile, error) {
	client := graph.NewClient(u.baseURL, u.httpClient, graph.StaticToken(cred.AccessToken), u.logger, u.userAgent)

	item, err := client.UploadFile(ctx, u.folder, f.Name, f.MimeType, f.Data)
	if err != nil {
		if graph.IsAuthFailure(err) {
			return nil, fmt.Errorf("%w: %w", relay.ErrGrantRejected, err)
		}

		return nil, err
	}

	return &relay.StoredFile{
		StorageID:   item.ID,
		DisplayName: item.Name,
		ViewURL:     item.WebURL,
	}, nil
}

// lineFetcher downloads message content from the LINE data API.
type lineFetcher struct {
	client *line.Client
}

func (f lineFetcher) Fetch(ctx context.Context, messageID string) ([]byte, string, error) {
	content, err := f.client.FetchContent(ctx, messageID)
	if err != nil {
		return nil, "", err
	}

	return content.Data, content.ContentType, nil
}
