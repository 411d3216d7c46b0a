// Package media implements the three-step checksum-verified upload:
// initialize to obtain one-time URLs, PUT the raw bytes, then finalize with
// the locally computed SHA-256. A digest mismatch at finalize is a hard
// abort and is never retried; it signals corruption or a server defect,
// not transience.
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/RegistryAccord/registryaccord-cli-go/internal/errs"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/httpclient"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/model"
)

// Uploader performs checksum-verified uploads through the gateway service.
type Uploader struct {
	client     *httpclient.Client
	gatewayURL string
	logger     *slog.Logger
}

// NewUploader wires an Uploader against a gateway base URL.
func NewUploader(client *httpclient.Client, gatewayURL string, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{client: client, gatewayURL: gatewayURL, logger: logger}
}

// Upload reads the file, uploads it and verifies the server's digest
// against the local one. Init and finalize go through the JSON client and
// inherit its retry policy; the byte transfer is a raw PUT under the same
// policy. The returned reference carries the verified content digest.
func (u *Uploader) Upload(ctx context.Context, path, mimeType string) (model.MediaReference, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.MediaReference{}, errs.Wrap(errs.KindFilesystem, fmt.Sprintf("read media file %s", path), err)
	}
	if mimeType == "" {
		mimeType = DetectMimeType(path)
	}

	digest := sha256.Sum256(data)
	localSum := hex.EncodeToString(digest[:])

	var init model.UploadInitResponse
	err = u.client.DoInto(ctx, "POST", u.gatewayURL+"/v1/media/uploadInit",
		model.UploadInitRequest{MimeType: mimeType, Size: int64(len(data))}, &init)
	if err != nil {
		return model.MediaReference{}, err
	}
	if init.UploadURL == "" || init.FinalizeURL == "" {
		return model.MediaReference{}, errs.New(errs.KindValidation, "uploadInit response missing upload or finalize URL")
	}

	if err := u.client.PutBytes(ctx, absoluteURL(u.gatewayURL, init.UploadURL), mimeType, data); err != nil {
		return model.MediaReference{}, err
	}

	var fin model.FinalizeResponse
	err = u.client.DoInto(ctx, "POST", absoluteURL(u.gatewayURL, init.FinalizeURL),
		model.FinalizeRequest{Checksum: localSum}, &fin)
	if err != nil {
		return model.MediaReference{}, err
	}

	if !strings.EqualFold(fin.CID, localSum) {
		return model.MediaReference{}, errs.New(errs.KindServer, fmt.Sprintf(
			"media checksum mismatch: local sha256 %s, server reported %s", localSum, fin.CID))
	}

	u.logger.Info("media uploaded", "contentId", fin.CID, "mimeType", mimeType, "size", len(data))
	return model.MediaReference{ContentID: strings.ToLower(fin.CID), MimeType: mimeType}, nil
}

// DetectMimeType guesses a MIME type from the file extension, defaulting
// to application/octet-stream.
func DetectMimeType(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// absoluteURL resolves service-relative URLs returned by uploadInit while
// passing absolute ones through untouched.
func absoluteURL(base, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(ref, "/")
}
