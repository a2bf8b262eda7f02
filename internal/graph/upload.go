package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// chunkAlignment is the required alignment for upload chunk sizes (320 KiB).
// All chunks except the final one must be a multiple of this value.
const chunkAlignment = 320 * 1024

// uploadChunkSize is the size of each session chunk (10 MiB rounded to the
// 320 KiB alignment).
const uploadChunkSize = 32 * chunkAlignment

// simpleUploadMaxSize is the maximum file size for simple (single-request) upload (4 MB).
// Larger files go through a resumable upload session.
const simpleUploadMaxSize = 4 * 1024 * 1024

// conflictRename asks OneDrive to pick a fresh name rather than overwrite.
const conflictRename = "rename"

type createUploadSessionRequest struct {
	Item uploadSessionItem `json:"item"`
}

type uploadSessionItem struct {
	ConflictBehavior string `json:"@microsoft.graph.conflictBehavior"` //nolint:tagliatelle // Graph API annotation key
}

type uploadSessionResponse struct {
	UploadURL string `json:"uploadUrl"`
}

// UploadFile writes content into the app folder, under folder when it is
// non-empty. Existing files with the same name are kept; OneDrive renames the
// new one.
func (c *Client) UploadFile(
	ctx context.Context, folder, name, mimeType string, content []byte,
) (*Item, error) {
	if name == "" {
		return nil, fmt.Errorf("graph: upload requires a file name")
	}

	itemPath := appFolderPath(folder, name)

	c.logger.Info("uploading file",
		slog.String("path", itemPath),
		slog.Int("size", len(content)),
	)

	if len(content) <= simpleUploadMaxSize {
		return c.simpleUpload(ctx, itemPath, mimeType, content)
	}

	return c.sessionUpload(ctx, itemPath, content)
}

// simpleUpload sends content in a single PUT.
func (c *Client) simpleUpload(ctx context.Context, itemPath, mimeType string, content []byte) (*Item, error) {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	path := "/me/drive/special/approot:/" + itemPath +
		":/content?@microsoft.graph.conflictBehavior=" + conflictRename

	resp, err := c.Do(ctx, http.MethodPut, path, mimeType, bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return decodeItem(resp.Body)
}

// sessionUpload creates an upload session and streams content in aligned chunks.
func (c *Client) sessionUpload(ctx context.Context, itemPath string, content []byte) (*Item, error) {
	reqBody, err := json.Marshal(createUploadSessionRequest{
		Item: uploadSessionItem{ConflictBehavior: conflictRename},
	})
	if err != nil {
		return nil, fmt.Errorf("graph: marshaling upload session request: %w", err)
	}

	path := "/me/drive/special/approot:/" + itemPath + ":/createUploadSession"

	resp, err := c.Do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}

	var usr uploadSessionResponse

	decErr := json.NewDecoder(resp.Body).Decode(&usr)
	resp.Body.Close()

	if decErr != nil {
		return nil, fmt.Errorf("graph: decoding upload session response: %w", decErr)
	}

	if usr.UploadURL == "" {
		return nil, fmt.Errorf("graph: upload session response has no upload URL")
	}

	total := int64(len(content))

	for offset := int64(0); offset < total; offset += uploadChunkSize {
		end := min(offset+uploadChunkSize, total)

		item, err := c.uploadChunk(ctx, usr.UploadURL, content[offset:end], offset, total)
		if err != nil {
			return nil, err
		}

		if item != nil {
			return item, nil
		}
	}

	return nil, fmt.Errorf("graph: upload session ended without a completed item")
}

// uploadChunk PUTs one chunk. Returns the item on the final chunk and nil for
// intermediate chunks. The session URL is pre-authenticated, so no
// Authorization header is sent.
func (c *Client) uploadChunk(
	ctx context.Context, uploadURL string, chunk []byte, offset, total int64,
) (*Item, error) {
	length := int64(len(chunk))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(chunk))
	if err != nil {
		return nil, fmt.Errorf("graph: creating chunk upload request: %w", err)
	}

	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, total))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("User-Agent", c.userAgent)
	req.ContentLength = length

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph: chunk upload request failed: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusAccepted:
		// Drain body to reuse connection.
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		c.logger.Debug("intermediate chunk accepted",
			slog.Int64("offset", offset),
			slog.Int64("total", total),
		)

		return nil, nil

	case http.StatusOK, http.StatusCreated:
		defer resp.Body.Close()

		return decodeItem(resp.Body)

	default:
		return nil, sessionError(errorFromResponse(resp))
	}
}

// sessionError keeps a chunk failure from reading as an auth failure.
func sessionError(err error) error {
	var ge *GraphError
	if errors.As(err, &ge) && IsAuthFailure(ge) {
		ge.Err = ErrSessionRefused
	}

	return err
}

func decodeItem(r io.Reader) (*Item, error) {
	var dir driveItemResponse
	if err := json.NewDecoder(r).Decode(&dir); err != nil {
		return nil, fmt.Errorf("graph: decoding upload response: %w", err)
	}

	item := dir.toItem()

	return &item, nil
}

// appFolderPath joins folder and name into an escaped path relative to the
// app folder.
func appFolderPath(folder, name string) string {
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return encodePathSegments(name)
	}

	return encodePathSegments(folder + "/" + name)
}
