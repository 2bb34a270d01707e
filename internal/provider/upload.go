package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
)

const uploadEndpoint = "/api/file-stream-upload"

// uploadURLFields are checked in order, first under "data" and then at the
// top level of the upload response.
var uploadURLFields = []string{"downloadUrl", "fileUrl", "url"}

// UploadAsset sends the file at localPath to the provider's upload endpoint
// and returns the URL the provider assigned to it.
func (c *Client) UploadAsset(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("provider: open upload: %w", err)
	}
	defer f.Close()

	fileName := filepath.Base(localPath)
	contentType := mime.TypeByExtension(filepath.Ext(fileName))
	if contentType == "" {
		contentType = "image/jpeg"
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	// The form is written into a pipe while the request reads from it, so the
	// file is never held in memory.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadForm(mw, f, fileName, contentType, c.uploadPath))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadBaseURL+uploadEndpoint, pr)
	if err != nil {
		pr.Close()
		return "", fmt.Errorf("provider: build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider: upload: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "upload"); err != nil {
		return "", err
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("provider: read upload response: %w", err)
	}
	if err := checkEnvelope(raw, "upload"); err != nil {
		return "", err
	}
	return uploadedURL(raw)
}

// writeUploadForm writes the file part and the upload fields, then closes
// the multipart writer.
func writeUploadForm(mw *multipart.Writer, f io.Reader, fileName, contentType, uploadPath string) error {
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName))
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return fmt.Errorf("provider: build upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("provider: read upload: %w", err)
	}
	if err := mw.WriteField("uploadPath", uploadPath); err != nil {
		return fmt.Errorf("provider: build upload: %w", err)
	}
	if err := mw.WriteField("fileName", fileName); err != nil {
		return fmt.Errorf("provider: build upload: %w", err)
	}
	return mw.Close()
}

// uploadedURL extracts the asset URL from an upload response.
func uploadedURL(raw []byte) (string, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return "", fmt.Errorf("%w: upload: %v", ErrUnexpectedResponse, err)
	}

	if data, ok := top["data"]; ok {
		var nested map[string]json.RawMessage
		if json.Unmarshal(data, &nested) == nil {
			if u := firstString(nested, uploadURLFields); u != "" {
				return u, nil
			}
		}
	}
	if u := firstString(top, uploadURLFields); u != "" {
		return u, nil
	}
	return "", fmt.Errorf("%w: upload: no url in %s", ErrUnexpectedResponse, truncate(raw))
}

func firstString(m map[string]json.RawMessage, keys []string) string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(v, &s) == nil && s != "" {
			return s
		}
	}
	return ""
}

func truncate(b []byte) string {
	if len(b) > 256 {
		return string(b[:256]) + "..."
	}
	return string(b)
}
