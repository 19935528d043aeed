package xfer

import (
	"context"
	"strings"

	"glidetrack/pkg/request"
)

// HTTPUploader posts track chunks below a base URL through a request.Client.
type HTTPUploader struct {
	client *request.Client
	base   func() string
}

// NewHTTPUploader creates an uploader. base is read on every upload so a
// changed endpoint setting takes effect without a restart.
func NewHTTPUploader(client *request.Client, base func() string) *HTTPUploader {
	return &HTTPUploader{client: client, base: base}
}

// Upload implements Uploader.
func (u *HTTPUploader) Upload(ctx context.Context, path string, body []byte) (Reply, error) {
	url := strings.TrimRight(u.base(), "/") + path
	resp, err := u.client.Post(ctx, url, body, "application/octet-stream")
	if err != nil {
		return Reply{}, err
	}
	return Reply{
		Status:     resp.StatusCode,
		StatusText: resp.Status,
		Body:       strings.TrimSpace(string(resp.Body)),
	}, nil
}
